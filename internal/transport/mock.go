package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/cache"
	"github.com/joshuafuller/beacon/internal/rr"
)

// MockTransport is a test double that records every packet handed to Send
// and lets a test inject inbound events directly, grounded in the
// teacher's internal/transport/mock.go fake-socket shape.
type MockTransport struct {
	mu      sync.Mutex
	sent    []SentPacket
	refs    int
	cache   *cache.ExpiringRecordCollection
	subs    map[*Subscription]chan<- *Event
	history map[uint32]time.Time
}

// SentPacket records one call to Send, for assertions in tests.
type SentPacket struct {
	Packet *rr.Packet
	Dest   net.Addr
}

// NewMockTransport returns a ready-to-use fake transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		cache:   cache.NewExpiringRecordCollection(nil, nil),
		subs:    make(map[*Subscription]chan<- *Event),
		history: make(map[uint32]time.Time),
	}
}

func (m *MockTransport) Bind() error { return nil }
func (m *MockTransport) Acquire()    { m.mu.Lock(); m.refs++; m.mu.Unlock() }
func (m *MockTransport) Release()    { m.mu.Lock(); m.refs--; m.mu.Unlock() }
func (m *MockTransport) Close() error { return nil }

// Send records the packet instead of touching a socket.
func (m *MockTransport) Send(ctx context.Context, pkt *rr.Packet, dest net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentPacket{Packet: pkt, Dest: dest})
	now := time.Now()
	for _, r := range pkt.Answers {
		m.history[r.NameHash()] = now
	}
	return nil
}

// Sent returns every packet handed to Send so far.
func (m *MockTransport) Sent() []SentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentPacket, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockTransport) Cache() *cache.ExpiringRecordCollection { return m.cache }

func (m *MockTransport) HasRecentlySent(r *rr.Record, fraction float64) bool {
	m.mu.Lock()
	last, ok := m.history[r.NameHash()]
	m.mu.Unlock()
	if !ok {
		return false
	}
	window := time.Duration(float64(r.TTL) * fraction * float64(time.Second))
	return time.Since(last) < window
}

func (m *MockTransport) Subscribe(ch chan<- *Event) *Subscription {
	sub := &Subscription{}
	m.mu.Lock()
	m.subs[sub] = ch
	m.mu.Unlock()
	sub.cancel = func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	}
	return sub
}

// Inject delivers ev to every current subscriber, simulating an inbound
// packet for tests.
func (m *MockTransport) Inject(ev *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
