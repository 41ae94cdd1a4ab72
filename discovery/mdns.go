// Package discovery advertises a hub on the local network over mDNS and lets
// peers find it without a configured URL.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	ServiceType = "_sharedcanvas._tcp"
	wsPath      = "/ws"
)

// Advertise announces the hub listening on port until the returned server is
// shut down.
func Advertise(port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := newService(host, "", port, nil)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse queries the network for hubs and returns their websocket URLs. It
// waits for timeout or until ctx expires, whichever is sooner.
func Browse(ctx context.Context, timeout time.Duration) ([]string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	collected := make(chan []string, 1)
	go func() {
		var urls []string
		seen := make(map[string]bool)
		for e := range entries {
			if u, ok := entryURL(e); ok && !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
		collected <- urls
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	urls := <-collected
	if err != nil {
		return nil, fmt.Errorf("mDNS lookup failed: %w", err)
	}
	return urls, nil
}

func newService(instance, hostName string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	info := []string{"shared-canvas", "path=" + wsPath}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", hostName, port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

func entryURL(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	path := wsPath
	for _, field := range e.InfoFields {
		if p, ok := strings.CutPrefix(field, "path="); ok && strings.HasPrefix(p, "/") {
			path = p
		}
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)), path), true
}
