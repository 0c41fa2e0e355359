// ABOUTME: mDNS discovery of time publishers
// ABOUTME: Publishers advertise their control port; receivers browse and resolve it
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// ServiceType is the mDNS service advertised by publishers
const ServiceType = "_timesync._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName  string
	Port         int
	QueryTimeout time.Duration // per browse round, default 3s
	Logger       *zap.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo

	browseOnce sync.Once
}

// ServerInfo describes a discovered publisher
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// Addr returns host:port of the publisher's control service
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		log:     config.Logger.Named("discovery"),
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces a publisher on the local network until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=/timesync"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.Info("advertising",
		zap.String("name", m.config.ServiceName),
		zap.Int("port", m.config.Port),
		zap.String("type", ServiceType))

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for publishers in the background
func (m *Manager) Browse() {
	m.browseOnce.Do(func() { go m.browseLoop() })
}

// browseLoop continuously browses for publishers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}
				server := &ServerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}

				m.log.Debug("discovered publisher", zap.String("name", server.Name), zap.String("addr", server.Addr()))

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				default:
					// nobody is waiting; the next round will report it again
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: m.config.QueryTimeout,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			m.log.Debug("mdns query failed", zap.Error(err))
		}
		close(entries)
	}
}

// Servers returns the channel of discovered publishers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Resolve waits for the next discovered publisher and returns its control address.
// It has the shape of conn.Resolver.
func (m *Manager) Resolve(ctx context.Context) (string, error) {
	m.Browse()

	select {
	case server := <-m.servers:
		return server.Addr(), nil
	case <-ctx.Done():
		return "", fmt.Errorf("no publisher found: %w", ctx.Err())
	case <-m.ctx.Done():
		return "", fmt.Errorf("discovery stopped")
	}
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
