package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/beacon/internal/cache"
	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/hostenv"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/security"
	"github.com/joshuafuller/beacon/internal/wire"
)

// UDPTransport is the default socket-backed Transport, one instance per
// network interface, generalizing the teacher's single shared
// UDPv4Transport into a per-interface instance with its own cache and
// send/receive history.
type UDPTransport struct {
	iface   net.Interface
	ipv6    bool
	hostEnv hostenv.HostEnv

	bindOnce sync.Once
	bindErr  error

	mu       sync.Mutex
	refCount int
	conn     net.PacketConn
	pconn4   *ipv4.PacketConn
	pconn6   *ipv6.PacketConn

	rateLimiter  *security.RateLimiter
	sourceFilter *security.SourceFilter
	cache        *cache.ExpiringRecordCollection

	historyMu sync.Mutex
	history   map[uint32]time.Time

	subsMu sync.Mutex
	subs   map[*Subscription]chan<- *Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUDPTransport constructs a transport bound to iface. v6 selects the
// FF02::FB group instead of 224.0.0.251.
func NewUDPTransport(iface net.Interface, henv hostenv.HostEnv, v6 bool) *UDPTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		iface:       iface,
		ipv6:        v6,
		hostEnv:     henv,
		rateLimiter: security.NewRateLimiter(protocol.RateLimitThreshold, protocol.RateLimitCooldown, protocol.RateLimitMaxSources),
		history:     make(map[uint32]time.Time),
		subs:        make(map[*Subscription]chan<- *Event),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	t.cache = cache.NewExpiringRecordCollection(nil, nil)
	return t
}

// Bind joins the multicast group on this interface exactly once.
func (t *UDPTransport) Bind() error {
	t.bindOnce.Do(func() {
		t.bindErr = t.bind()
		if t.bindErr == nil {
			go t.receiveLoop()
		}
	})
	return t.bindErr
}

func (t *UDPTransport) bind() error {
	lc := net.ListenConfig{Control: platformControl}

	if t.ipv6 {
		conn, err := lc.ListenPacket(t.ctx, "udp6", "[::]:5353")
		if err != nil {
			return &errors.TransportError{Operation: "bind ipv6 socket", Err: err}
		}
		pconn := ipv6.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6)}
		if err := pconn.JoinGroup(&t.iface, group); err != nil {
			conn.Close()
			return &errors.TransportError{Operation: "join ipv6 multicast group", Err: err}
		}
		_ = pconn.SetMulticastLoopback(true)
		_ = pconn.SetMulticastHopLimit(255)
		t.conn = conn
		t.pconn6 = pconn
		return nil
	}

	conn, err := lc.ListenPacket(t.ctx, "udp4", ":5353")
	if err != nil {
		return &errors.TransportError{Operation: "bind ipv4 socket", Err: err}
	}
	pconn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}
	if err := pconn.JoinGroup(&t.iface, group); err != nil {
		conn.Close()
		return &errors.TransportError{Operation: "join ipv4 multicast group", Err: err}
	}
	_ = pconn.SetMulticastLoopback(true)
	_ = pconn.SetMulticastTTL(255)
	_ = pconn.SetControlMessage(ipv4.FlagDst|ipv4.FlagSrc, true)
	t.conn = conn
	t.pconn4 = pconn
	if sf, err := security.NewSourceFilter(t.iface); err == nil {
		t.sourceFilter = sf
	}
	return nil
}

// Acquire increments the reference count.
func (t *UDPTransport) Acquire() {
	t.mu.Lock()
	t.refCount++
	t.mu.Unlock()
}

// Release decrements the reference count, closing the transport once it
// reaches zero.
func (t *UDPTransport) Release() {
	t.mu.Lock()
	t.refCount--
	shouldClose := t.refCount <= 0
	t.mu.Unlock()
	if shouldClose {
		_ = t.Close()
	}
}

func (t *UDPTransport) multicastAddr() *net.UDPAddr {
	if t.ipv6 {
		return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: protocol.Port, Zone: t.iface.Name}
	}
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
}

// Send transmits pkt to dest, or the interface's multicast group when dest
// is nil. It refuses to send when unbound, when the packet is empty, or
// when dest resolves to a non-link-local unicast address. A too-large
// packet is split and each half resent.
func (t *UDPTransport) Send(ctx context.Context, pkt *rr.Packet, dest net.Addr) error {
	if t.conn == nil {
		return &errors.TransportError{Operation: "send", Err: net.ErrClosed, Details: "transport not bound"}
	}
	if len(pkt.Questions) == 0 && len(pkt.Answers) == 0 && len(pkt.Authorities) == 0 && len(pkt.Additionals) == 0 {
		return nil
	}

	target := dest
	if target == nil {
		target = t.multicastAddr()
	} else if udpAddr, ok := target.(*net.UDPAddr); ok {
		if !security.ValidateDestination(udpAddr.IP) {
			return &errors.TransportError{Operation: "send", Details: "destination is not link-local scope"}
		}
	}

	w := wire.NewWriteBuffer()
	if err := pkt.Encode(w); err != nil {
		return err
	}

	if _, err := t.conn.WriteTo(w.Bytes(), target); err != nil {
		if isMessageTooLong(err) {
			return t.sendSplit(ctx, pkt, target)
		}
		return &errors.TransportError{Operation: "send", Err: err}
	}

	t.recordHistory(pkt)
	return nil
}

func (t *UDPTransport) sendSplit(ctx context.Context, pkt *rr.Packet, target net.Addr) error {
	rest := pkt.Split()
	if rest == nil {
		// Cannot reduce further: send nothing and report no error.
		return nil
	}
	if err := t.Send(ctx, pkt, target); err != nil {
		return err
	}
	return t.Send(ctx, rest, target)
}

func isMessageTooLong(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "message too long") || strings.Contains(msg, "EMSGSIZE")
}

func (t *UDPTransport) recordHistory(pkt *rr.Packet) {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()
	now := time.Now()
	for _, r := range pkt.Answers {
		t.history[r.NameHash()] = now
	}
	for _, r := range pkt.Additionals {
		t.history[r.NameHash()] = now
	}
}

// HasRecentlySent reports whether a record sharing r's NameHash was sent
// within fraction * TTL of now.
func (t *UDPTransport) HasRecentlySent(r *rr.Record, fraction float64) bool {
	t.historyMu.Lock()
	last, ok := t.history[r.NameHash()]
	t.historyMu.Unlock()
	if !ok {
		return false
	}
	window := time.Duration(float64(r.TTL) * fraction * float64(time.Second))
	return time.Since(last) < window
}

// Cache returns this transport's record cache.
func (t *UDPTransport) Cache() *cache.ExpiringRecordCollection { return t.cache }

// Subscribe registers ch for every classified inbound event.
func (t *UDPTransport) Subscribe(ch chan<- *Event) *Subscription {
	sub := &Subscription{}
	t.subsMu.Lock()
	t.subs[sub] = ch
	t.subsMu.Unlock()
	sub.cancel = func() {
		t.subsMu.Lock()
		delete(t.subs, sub)
		t.subsMu.Unlock()
	}
	return sub
}

func (t *UDPTransport) dispatch(ev *Event) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *UDPTransport) receiveLoop() {
	defer close(t.done)
	buf := make([]byte, 65536)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		t.handleInbound(buf[:n], addr)
	}
}

func (t *UDPTransport) handleInbound(data []byte, addr net.Addr) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	if !t.rateLimiter.Allow(udpAddr.IP.String()) {
		return
	}
	if !t.ipv6 && t.sourceFilter != nil && !t.sourceFilter.IsValid(udpAddr.IP) {
		return
	}

	pkt, err := rr.Decode(wire.NewBuffer(data))
	if err != nil || pkt.IsInvalid() {
		return // per spec.md §4.5, parse/validation failures are dropped silently.
	}

	legacy := udpAddr.Port != protocol.Port
	local := t.hostEnv != nil && t.hostEnv.IsLocalAddress(udpAddr.IP)

	switch {
	case pkt.IsAnswer():
		if udpAddr.Port == protocol.Port {
			for _, r := range pkt.Answers {
				if r.Unique {
					t.cache.FlushRelated(r)
				}
				t.cache.Add(r)
			}
		}
		t.dispatch(&Event{Kind: KindAnswer, Packet: pkt, SourceAddr: udpAddr.IP, SourcePort: udpAddr.Port, Legacy: legacy, Local: local})
	case pkt.IsProbe():
		if udpAddr.Port == protocol.Port {
			t.dispatch(&Event{Kind: KindProbe, Packet: pkt, SourceAddr: udpAddr.IP, SourcePort: udpAddr.Port, Legacy: legacy, Local: local})
		}
	case pkt.IsQuery():
		t.dispatch(&Event{Kind: KindQuery, Packet: pkt, SourceAddr: udpAddr.IP, SourcePort: udpAddr.Port, Legacy: legacy, Local: local})
	}
}

// Close shuts the transport down unconditionally.
func (t *UDPTransport) Close() error {
	t.cancel()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
