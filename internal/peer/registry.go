// internal/peer/registry.go
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrUnknownPeer is returned when a locator is not registered.
var ErrUnknownPeer = errors.New("unknown peer")

// Info is the registration of one peer instance.
type Info struct {
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	Load      int       `json:"load"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Locator identifies a peer across the cluster, e.g. "ws://10.0.0.3:8080".
func (i Info) Locator() string {
	return fmt.Sprintf("%s://%s", i.Protocol, net.JoinHostPort(i.Address, strconv.Itoa(i.Port)))
}

// URL is the websocket endpoint other peers dial.
func (i Info) URL() string {
	return i.Locator() + "/ws"
}

// Registry tracks live peers and their load.
type Registry interface {
	AddPeer(ctx context.Context, info Info) error
	UpdatePeer(ctx context.Context, info Info) error
	RemovePeer(ctx context.Context, locator string) error
	FindPeer(ctx context.Context, locator string) (Info, error)
	Peers(ctx context.Context) ([]Info, error)
}

// MemoryRegistry is a Registry for a single process, used in tests and single-peer setups.
type MemoryRegistry struct {
	mu    sync.Mutex
	peers map[string]Info
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{peers: make(map[string]Info)}
}

func (r *MemoryRegistry) AddPeer(_ context.Context, info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info.UpdatedAt = time.Now().UTC()
	r.peers[info.Locator()] = info
	return nil
}

func (r *MemoryRegistry) UpdatePeer(_ context.Context, info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[info.Locator()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, info.Locator())
	}
	info.UpdatedAt = time.Now().UTC()
	r.peers[info.Locator()] = info
	return nil
}

func (r *MemoryRegistry) RemovePeer(_ context.Context, locator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, locator)
	return nil
}

func (r *MemoryRegistry) FindPeer(_ context.Context, locator string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.peers[locator]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownPeer, locator)
	}
	return info, nil
}

func (r *MemoryRegistry) Peers(_ context.Context) ([]Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.peers))
	for _, info := range r.peers {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locator() < out[j].Locator() })
	return out, nil
}
