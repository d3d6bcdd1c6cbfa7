// Package probe implements the three-shot probing algorithm spec.md §4.7
// describes, including the RFC 6762 §8.2 simultaneous-probe tiebreak and
// bridgeable-record-aware conflict detection.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6762 §8.1 (probing), §8.2 (tiebreaking).
package probe

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

const (
	probeInterval  = protocol.ProbeInterval
	probeCount     = protocol.ProbeCount
	restartDelay   = time.Second
	initialJitterN = int64(protocol.ProbeInterval) // 0..250ms
)

// Result reports how a probe concluded.
type Result struct {
	Early    bool // probe ended before its third send because an inbound answer carried every candidate
	Conflict bool
}

// Probe drives a single probing attempt over a set of candidate records.
type Probe struct {
	tr         transport.Transport
	candidates []*rr.Record
	bridgeable []*rr.Record

	onConflict func()
	onComplete func(Result)
	onRestart  func()

	sub    *transport.Subscription
	events chan *transport.Event

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures callbacks for probe outcomes.
type Options struct {
	OnConflict func()
	OnComplete func(Result)
	OnRestart  func()
}

// New constructs a Probe over candidates, treating bridgeable as records
// that may look like conflicts but are actually the same logical identity
// announced from another local interface.
func New(tr transport.Transport, candidates, bridgeable []*rr.Record, opts Options) *Probe {
	ctx, cancel := context.WithCancel(context.Background())
	return &Probe{
		tr:         tr,
		candidates: candidates,
		bridgeable: bridgeable,
		onConflict: opts.OnConflict,
		onComplete: opts.OnComplete,
		onRestart:  opts.OnRestart,
		events:     make(chan *transport.Event, 32),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ShortCircuit checks the local cache before any network traffic: it
// succeeds (true, nil) if every candidate is already present exactly, and
// fails (false, conflicting-record) if any conflicting unique record is
// already cached.
func ShortCircuit(tr transport.Transport, candidates []*rr.Record) (ok bool, conflict *rr.Record) {
	c := tr.Cache()
	existing := c.GetAboveTTL(0)
	allPresent := true
	for _, cand := range candidates {
		if !c.Has(cand) {
			allPresent = false
		}
		for _, other := range existing {
			if cand.ConflictsWith(other) {
				return false, other
			}
		}
	}
	return allPresent, nil
}

// Run executes the probe synchronously: three sends 250ms apart (after a
// random 0-250ms initial delay), completing early if an inbound answer
// carries every candidate, firing conflict on a real collision, and
// restarting via onRestart after losing a simultaneous-probe tiebreak.
func (p *Probe) Run() {
	p.sub = p.tr.Subscribe(p.events)
	defer p.sub.Cancel()

	initial := time.Duration(rand.Int63n(initialJitterN + 1))
	timer := time.NewTimer(initial)
	defer timer.Stop()

	sent := 0
	for sent < probeCount {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
			p.send()
			sent++
			if sent < probeCount {
				timer.Reset(probeInterval)
			}
		case ev := <-p.events:
			if p.handleEvent(ev) {
				return
			}
		}
	}

	if p.onComplete != nil {
		p.onComplete(Result{Early: false, Conflict: false})
	}
}

func (p *Probe) send() {
	pkt := &rr.Packet{Header: rr.Header{}, Authorities: p.candidates}
	for _, c := range p.candidates {
		pkt.Questions = append(pkt.Questions, &rr.Query{Name: c.Name, QType: c.Data.Type(), QClass: c.Class})
	}
	_ = p.tr.Send(p.ctx, pkt, nil)
}

// handleEvent processes one inbound transport event and reports whether
// the probe has concluded (conflict, early completion, or restart).
func (p *Probe) handleEvent(ev *transport.Event) bool {
	switch ev.Kind {
	case transport.KindAnswer:
		return p.handleAnswer(ev)
	case transport.KindProbe:
		if !ev.Local {
			return p.handleSimultaneousProbe(ev)
		}
	}
	return false
}

func (p *Probe) handleAnswer(ev *transport.Event) bool {
	all := append(append([]*rr.Record(nil), ev.Packet.Answers...), ev.Packet.Additionals...)

	if p.allProvenBy(all) {
		if p.onComplete != nil {
			p.onComplete(Result{Early: true})
		}
		return true
	}

	for _, cand := range p.candidates {
		for _, incoming := range all {
			if !cand.ConflictsWith(incoming) {
				continue
			}
			if p.isBridged(incoming) {
				continue
			}
			if p.onConflict != nil {
				p.onConflict()
			}
			return true
		}
	}
	return false
}

func (p *Probe) allProvenBy(all []*rr.Record) bool {
	for _, cand := range p.candidates {
		found := false
		for _, incoming := range all {
			if cand.Hash() == incoming.Hash() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p *Probe) isBridged(incoming *rr.Record) bool {
	for _, b := range p.bridgeable {
		if b.Hash() == incoming.Hash() {
			return true
		}
	}
	return false
}

// handleSimultaneousProbe applies the RFC 6762 §8.2 tiebreak: group both
// sides by uppercase name, sort each group by ascending type, and compare
// pairwise. We lose if the other side is lexicographically later on every
// record compared so far; we win if it runs out of records first; ties
// advance to the next record.
func (p *Probe) handleSimultaneousProbe(ev *transport.Event) bool {
	ours := groupByName(p.candidates)
	theirs := groupByName(ev.Packet.Authorities)

	for name, mine := range ours {
		other, ok := theirs[name]
		if !ok {
			continue
		}
		if tiebreakLoses(mine, other) {
			go p.restart()
			return true
		}
	}
	return false
}

func groupByName(recs []*rr.Record) map[string][]*rr.Record {
	groups := make(map[string][]*rr.Record)
	for _, r := range recs {
		key := strings.ToUpper(strings.TrimSuffix(r.Name, "."))
		groups[key] = append(groups[key], r)
	}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Data.Type() < group[j].Data.Type() })
	}
	return groups
}

// tiebreakLoses reports whether "mine" loses to "other": other is later on
// every compared record, or mine runs out first.
func tiebreakLoses(mine, other []*rr.Record) bool {
	n := len(mine)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		cmp := mine[i].Compare(other[i])
		if cmp < 0 {
			return true // we're lexicographically earlier: we lose
		}
		if cmp > 0 {
			return false // we win
		}
	}
	// Every compared record tied: the side with fewer records loses.
	return len(mine) < len(other)
}

func (p *Probe) restart() {
	time.Sleep(restartDelay)
	if p.onRestart != nil {
		p.onRestart()
	}
}
