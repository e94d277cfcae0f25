// Package discovery advertises the service over mDNS so clients on the local
// network can find it without configuration.
package discovery

import (
	"context"
	"fmt"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
	"net"
	"os"
	"strconv"
)

const (
	Service = "_livetype._tcp"
	Domain  = "local."
)

type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance on the port taken from the listen address.
// The participant pair is published in the TXT record.
func Advertise(instance, listenAddr, self, peer string) (*Advertisement, error) {
	port, err := PortOf(listenAddr)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("%s-%s", instance, host),
		Service,
		Domain,
		port,
		TXT(self, peer),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	log.Info().Str("service", Service).Int("port", port).Msg("mdns service registered")
	return &Advertisement{server: server}, nil
}

func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

func TXT(self, peer string) []string {
	return []string{"txtv=0", "self=" + self, "peer=" + peer}
}

// PortOf extracts the numeric port from a listen address like ":8080".
func PortOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q: invalid port", addr)
	}
	return port, nil
}

// Browse logs other livetype instances seen until ctx is done.
func Browse(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			log.Info().
				Str("instance", entry.Instance).
				Int("port", entry.Port).
				Strs("txt", entry.Text).
				Msg("mdns discovered instance")
		}
	}(entries)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	return nil
}
