package registry

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/opd-ai/ovtransport/transport"
	"github.com/sirupsen/logrus"
)

// ProxyClient is an extra destination for unencrypted copies of audio.
type ProxyClient struct {
	ID   uint8
	Addr netip.Addr
}

// ProxyTable holds the proxy clients of a session. It is safe for concurrent
// use.
type ProxyTable struct {
	mu      sync.RWMutex
	clients map[uint8]netip.Addr
	resolve func(string) (netip.Addr, error)
}

// NewProxyTable creates an empty table.
func NewProxyTable() *ProxyTable {
	return &ProxyTable{
		clients: make(map[uint8]netip.Addr),
		resolve: transport.ResolveHost,
	}
}

// Add resolves host and registers it for id, replacing any previous entry.
// Resolution failures are returned as *transport.HostResolutionError and
// leave the table unchanged.
func (t *ProxyTable) Add(id uint8, host string) error {
	if err := checkID(id); err != nil {
		return err
	}

	addr, err := t.resolve(host)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProxyTable.Add",
			"id":       id,
			"host":     host,
			"error":    err.Error(),
		}).Warn("Cannot resolve proxy client")
		return err
	}

	t.mu.Lock()
	t.clients[id] = addr
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ProxyTable.Add",
		"id":       id,
		"host":     host,
		"addr":     addr.String(),
	}).Info("Proxy client added")
	return nil
}

// Remove drops the client with id.
func (t *ProxyTable) Remove(id uint8) {
	t.mu.Lock()
	delete(t.clients, id)
	t.mu.Unlock()
}

// List returns all clients ordered by id.
func (t *ProxyTable) List() []ProxyClient {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]ProxyClient, 0, len(t.clients))
	for id, addr := range t.clients {
		list = append(list, ProxyClient{ID: id, Addr: addr})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Len returns the number of clients.
func (t *ProxyTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}
