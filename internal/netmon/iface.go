package netmon

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// DefaultInterfacePollInterval is how often InterfaceSource re-reads the
// host's network interfaces.
const DefaultInterfacePollInterval = 2 * time.Second

// Interface is the part of a network interface the native signal looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    int
}

// InterfaceSource derives the native connectivity signal from the host's
// network interfaces: online iff some interface is up, not loopback, and has
// at least one address.
type InterfaceSource struct {
	Interval time.Duration
	Logger   *zap.Logger

	// List returns the current interfaces. Defaults to the host's.
	List func() ([]Interface, error)
}

// NewInterfaceSource creates a source polling the host's interfaces.
func NewInterfaceSource(logger *zap.Logger) *InterfaceSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterfaceSource{Interval: DefaultInterfacePollInterval, Logger: logger, List: hostInterfaces}
}

// Online reads the native signal once.
func (s *InterfaceSource) Online() (bool, error) {
	list := s.List
	if list == nil {
		list = hostInterfaces
	}
	ifaces, err := list()
	if err != nil {
		return false, err
	}
	for _, ifc := range ifaces {
		if ifc.Up && !ifc.Loopback && ifc.Addrs > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Watch emits the current signal, then every change, until ctx is done.
// The channel is closed when Watch stops. Read errors count as offline.
func (s *InterfaceSource) Watch(ctx context.Context) <-chan bool {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterfacePollInterval
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ch := make(chan bool, 1)
	go func() {
		defer close(ch)

		read := func() bool {
			online, err := s.Online()
			if err != nil {
				logger.Warn("read network interfaces", zap.Error(err))
				return false
			}
			return online
		}

		last := read()
		select {
		case ch <- last:
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				online := read()
				if online == last {
					continue
				}
				last = online
				select {
				case ch <- online:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func hostInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{
			Name:     ifc.Name,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
			Addrs:    len(addrs),
		})
	}
	return out, nil
}
