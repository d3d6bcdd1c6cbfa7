// Package responder implements the probe/announce/defend state machine
// spec.md §4.8 describes: a responder owns one unique-name record set,
// probes it, announces it, defends it against conflicting and duplicate
// queries, and renames on collision.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6762 §8 (probing and announcing), §6
// (responding).
package responder

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/probe"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

// State is one node of the responder's state machine.
type State int

const (
	StateProbing State = iota
	StateConflict
	StateResponding
	StateGoodbying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateConflict:
		return "conflict"
	case StateResponding:
		return "responding"
	case StateGoodbying:
		return "goodbying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	conflictWindow     = 15 * time.Second
	conflictThreshold  = 15
	renameCooldown     = 5 * time.Second
	probeTimeout       = protocol.ProbeTimeout
	announceCount      = protocol.AnnounceCount
	announceBaseDelay  = protocol.AnnounceInterval
	knownAnswerHalf    = 0.5
	unicastSentWithin  = 0.25
)

var renameSuffix = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// Responder owns a set of unique-name records and drives them through
// probing, announcing, and defense.
type Responder struct {
	tr      transport.Transport
	records []*rr.Record

	mu         sync.Mutex
	state      State
	bridgeable []*rr.Record
	conflicts  []time.Time

	onRename func(newLabel string)

	sub    *transport.Subscription
	events chan *transport.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures responder callbacks.
type Options struct {
	Bridgeable []*rr.Record
	OnRename   func(newLabel string)
}

// New constructs a Responder over records, which must all share the same
// unique label (the instance or host name portion before the service/
// domain suffix).
func New(tr transport.Transport, records []*rr.Record, opts Options) *Responder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		tr:         tr,
		records:    records,
		state:      StateProbing,
		bridgeable: opts.Bridgeable,
		onRename:   opts.OnRename,
		events:     make(chan *transport.Event, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start drives the responder from `probing` to completion in a background
// goroutine.
func (r *Responder) Start() {
	r.sub = r.tr.Subscribe(r.events)
	go r.enterProbing()
}

// State returns the current state.
func (r *Responder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Responder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Responder) enterProbing() {
	r.setState(StateProbing)

	if r.throttled() {
		select {
		case <-time.After(renameCooldown):
		case <-r.ctx.Done():
			return
		}
	}

	ok, conflict := probe.ShortCircuit(r.tr, r.records)
	if conflict != nil {
		r.enterConflict()
		return
	}
	if ok {
		r.enterResponding(true)
		return
	}

	timeoutTimer := time.AfterFunc(probeTimeout, func() { r.forceStop() })
	defer timeoutTimer.Stop()

	p := probe.New(r.tr, r.records, r.bridgeable, probe.Options{
		OnConflict: func() { r.enterConflict() },
		OnComplete: func(res probe.Result) { r.enterResponding(res.Early) },
		OnRestart:  func() { r.enterProbing() },
	})
	p.Run()
}

// throttled reports whether >=15 conflicts have landed in the last 15s.
func (r *Responder) throttled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-conflictWindow)
	kept := r.conflicts[:0]
	for _, t := range r.conflicts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.conflicts = kept
	return len(r.conflicts) >= conflictThreshold
}

func (r *Responder) recordConflict() {
	r.mu.Lock()
	r.conflicts = append(r.conflicts, time.Now())
	r.mu.Unlock()
}

func (r *Responder) enterConflict() {
	r.recordConflict()
	r.setState(StateConflict)
	r.rename()
	go r.enterProbing()
}

// rename appends or increments a " (N)" suffix on the unique label shared
// by every owned record, rewriting any Name or PTRData.Target equal to the
// old FQDN, then rehashes and rebuilds the bridgeable set.
func (r *Responder) rename() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return
	}
	oldName := r.records[0].Name
	newLabel, newName := renameLabel(oldName)

	for _, rec := range r.records {
		if rec.Name == oldName {
			rec.Name = newName
		}
		if ptr, ok := rec.Data.(rr.PTRData); ok && ptr.Target == oldName {
			rec.Data = rr.PTRData{Target: newName}
		}
	}
	for _, b := range r.bridgeable {
		if b.Name == oldName {
			b.Name = newName
		}
	}
	if r.onRename != nil {
		r.onRename(newLabel)
	}
}

// renameLabel bumps the " (N)" suffix on just the first dot-separated
// label of fqdn (the hostname or service-instance portion), leaving the
// service type and domain suffix untouched, and returns both the bare new
// label and the reassembled FQDN.
func renameLabel(fqdn string) (newLabel, newFQDN string) {
	trimmed := strings.TrimSuffix(fqdn, ".")
	idx := strings.Index(trimmed, ".")
	label, rest := trimmed, ""
	if idx >= 0 {
		label, rest = trimmed[:idx], trimmed[idx:]
	}
	newLabel = nextLabel(label)
	return newLabel, newLabel + rest + "."
}

func nextLabel(label string) string {
	if m := renameSuffix.FindStringSubmatch(label); m != nil {
		n := 2
		fmt.Sscanf(m[2], "%d", &n)
		return fmt.Sprintf("%s (%d)", m[1], n+1)
	}
	return label + " (2)"
}

func (r *Responder) enterResponding(early bool) {
	r.setState(StateResponding)
	if !early {
		go r.announce()
	}
	r.listen()
}

func (r *Responder) announce() {
	delay := announceBaseDelay
	for i := 0; i < announceCount; i++ {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}
		pkt := &rr.Packet{Header: rr.Header{QR: true, AA: true}, Answers: r.snapshotRecords()}
		_ = r.tr.Send(r.ctx, pkt, nil)
		delay *= 2
	}
}

func (r *Responder) snapshotRecords() []*rr.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*rr.Record(nil), r.records...)
}

func (r *Responder) listen() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			if r.State() != StateResponding {
				continue
			}
			switch ev.Kind {
			case transport.KindProbe:
				r.defendAgainst(ev, false)
			case transport.KindQuery:
				r.defendAgainst(ev, true)
			case transport.KindAnswer:
				r.handleInboundAnswer(ev)
			}
		}
	}
}

// defendAgainst answers probe/query packets per spec.md §4.8: one matching
// record per question, unicast when the QU bit is set and we have sent
// this record within a quarter of its TTL, otherwise multicast; legacy
// queries (non-5353 source port) always answer via unicast; an owned name
// with no matching type gets an NSEC.
func (r *Responder) defendAgainst(ev *transport.Event, isQuery bool) {
	questions := ev.Packet.Questions
	if !isQuery {
		questions = questionsFromAuthorities(ev.Packet.Authorities)
	}

	var multicastAnswers, unicastAnswers []*rr.Record
	owned := r.snapshotRecords()

	for _, q := range questions {
		matched := false
		for _, rec := range owned {
			if !rec.CanAnswer(q) {
				continue
			}
			matched = true
			if isQuery && suppressedByKnownAnswer(rec, ev.Packet.Answers) {
				continue
			}
			legacy := isQuery && ev.Legacy
			wantsUnicast := legacy || (q.QU && r.tr.HasRecentlySent(rec, unicastSentWithin))
			if wantsUnicast {
				unicastAnswers = append(unicastAnswers, rec)
			} else {
				multicastAnswers = append(multicastAnswers, rec)
			}
		}
		if !matched && r.ownsName(q.Name) {
			multicastAnswers = append(multicastAnswers, r.nsecFor(q.Name, owned))
		}
	}

	if len(multicastAnswers) > 0 {
		_ = r.tr.Send(r.ctx, &rr.Packet{Header: rr.Header{QR: true, AA: true}, Answers: multicastAnswers}, nil)
	}
	if len(unicastAnswers) > 0 {
		dest := &net.UDPAddr{IP: ev.SourceAddr, Port: ev.SourcePort}
		_ = r.tr.Send(r.ctx, &rr.Packet{Header: rr.Header{QR: true, AA: true}, Answers: unicastAnswers}, dest)
	}
}

func (r *Responder) ownsName(name string) bool {
	for _, rec := range r.snapshotRecords() {
		if strings.EqualFold(strings.TrimSuffix(rec.Name, "."), strings.TrimSuffix(name, ".")) {
			return true
		}
	}
	return false
}

func (r *Responder) nsecFor(name string, owned []*rr.Record) *rr.Record {
	types := make([]protocol.Type, 0, 4)
	for _, rec := range owned {
		if strings.EqualFold(strings.TrimSuffix(rec.Name, "."), strings.TrimSuffix(name, ".")) {
			types = append(types, rec.Data.Type())
		}
	}
	return &rr.Record{
		Name: name, Class: protocol.ClassIN, TTL: protocol.DefaultTTLNSEC, Unique: true,
		Data: rr.NSECData{NextName: name, Types: types},
	}
}

func questionsFromAuthorities(authorities []*rr.Record) []*rr.Query {
	out := make([]*rr.Query, 0, len(authorities))
	for _, rec := range authorities {
		out = append(out, &rr.Query{Name: rec.Name, QType: rec.Data.Type(), QClass: rec.Class})
	}
	return out
}

// suppressedByKnownAnswer reports whether known holds a clone of rec whose
// remaining TTL is still more than half the original.
func suppressedByKnownAnswer(rec *rr.Record, known []*rr.Record) bool {
	for _, k := range known {
		if k.Hash() != rec.Hash() {
			continue
		}
		if float64(k.TTL) > float64(rec.TTL)*knownAnswerHalf {
			return true
		}
	}
	return false
}

func (r *Responder) handleInboundAnswer(ev *transport.Event) {
	owned := r.snapshotRecords()
	for _, incoming := range ev.Packet.Answers {
		for _, own := range owned {
			if own.NameHash() != incoming.NameHash() {
				continue
			}
			switch {
			case incoming.TTL == 0 && incoming.RDataHash() == own.RDataHash():
				go r.announce()
			case r.isBridged(incoming):
				go r.announce()
			case own.ConflictsWith(incoming):
				r.enterConflict()
				return
			}
		}
	}
}

func (r *Responder) isBridged(incoming *rr.Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bridgeable {
		if b.Hash() == incoming.Hash() {
			return true
		}
	}
	return false
}

// UpdateEach applies mut to every owned record of the given type, rehashes
// implicitly (Record fields are mutated in place), and either re-announces
// (responding) or restarts probing (probing).
func (r *Responder) UpdateEach(t protocol.Type, mut func(*rr.Record)) {
	r.mu.Lock()
	for _, rec := range r.records {
		if rec.Data.Type() == t {
			mut(rec)
		}
	}
	state := r.state
	r.mu.Unlock()

	switch state {
	case StateResponding:
		go r.announce()
	case StateProbing:
		go r.enterProbing()
	}
}

// Stop transitions to goodbying (sending TTL=0 for every verified record)
// then to stopped.
func (r *Responder) Stop() {
	state := r.State()
	if state == StateStopped {
		return
	}
	r.setState(StateGoodbying)
	if state == StateResponding {
		r.goodbye()
	}
	r.finish()
}

func (r *Responder) goodbye() {
	owned := r.snapshotRecords()
	goodbyes := make([]*rr.Record, 0, len(owned))
	for _, rec := range owned {
		clone := *rec
		clone.TTL = 0
		goodbyes = append(goodbyes, &clone)
	}
	_ = r.tr.Send(r.ctx, &rr.Packet{Header: rr.Header{QR: true, AA: true}, Answers: goodbyes}, nil)
}

func (r *Responder) forceStop() {
	r.finish()
}

func (r *Responder) finish() {
	r.setState(StateStopped)
	r.cancel()
	if r.sub != nil {
		r.sub.Cancel()
	}
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Done returns a channel closed once the responder reaches stopped.
func (r *Responder) Done() <-chan struct{} { return r.done }
