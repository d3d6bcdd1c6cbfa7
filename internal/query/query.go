// Package query implements the continuous mDNS query engine spec.md §4.6
// describes: exponential retransmit with known-answer suppression,
// duplicate-question suppression against inbound queries, and cache
// short-circuiting on start.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6762 §5 (continuous querying), §7.1
// (known-answer suppression).
package query

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/clock"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

const (
	initialDelayLo = protocol.QueryInitialDelayLo
	initialDelayHi = protocol.QueryInitialDelayHi
	retransmitMin  = protocol.QueryRetransmitMin
	retransmitMax  = protocol.QueryRetransmitMax
	knownAnswerMin = 0.5 // fold in known answers whose remaining TTL >= 50% of original
)

// knownAnswer pairs a record fielded into the known-answer list with the
// TTL it carried when it was learned, so the 50%-of-original gate at send
// time has something to compare the elapsed time against.
type knownAnswer struct {
	record      *rr.Record
	originalTTL uint32
	learnedAt   time.Time
}

// AnswerEvent is emitted for every record that can answer one of the
// query's remaining questions, alongside the other records in the same
// inbound packet (for resolvers that need SRV+A/AAAA/TXT together).
type AnswerEvent struct {
	Record *rr.Record
	Others []*rr.Record
}

// Query is a single continuous (or one-shot) mDNS question set, retransmitted
// with exponential backoff and known-answer suppression until every
// question has been answered by a unique record, the context is cancelled,
// or (non-continuous) the first answer packet arrives.
type Query struct {
	tr         transport.Transport
	continuous bool
	ignoreCache bool
	timeout    time.Duration

	mu           sync.Mutex
	questions    []*rr.Query
	knownAnswers map[uint32]*knownAnswer
	delay        time.Duration

	timers *clock.Timers
	wakeCh chan struct{}
	cancelWake func()

	cancelCacheReissue func()
	cancelCacheExpire  func()

	onAnswer  func(AnswerEvent)
	onTimeout func()
	onStop    func()

	sub    *transport.Subscription
	events chan *transport.Event

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// Options configures a Query before Start.
type Options struct {
	Continuous  bool
	IgnoreCache bool
	Timeout     time.Duration // 0 means no timeout
	OnAnswer    func(AnswerEvent)
	OnTimeout   func()
	OnStop      func()
}

// New constructs a Query over the given questions. Call Start to begin
// sending.
func New(tr transport.Transport, questions []*rr.Query, opts Options) *Query {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Query{
		tr:           tr,
		continuous:   opts.Continuous,
		ignoreCache:  opts.IgnoreCache,
		timeout:      opts.Timeout,
		questions:    append([]*rr.Query(nil), questions...),
		knownAnswers: make(map[uint32]*knownAnswer),
		delay:        retransmitMin,
		timers:       clock.New(),
		onAnswer:     opts.OnAnswer,
		onTimeout:    opts.OnTimeout,
		onStop:       opts.OnStop,
		events:       make(chan *transport.Event, 32),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	return q
}

// Start runs the query loop in a background goroutine, returning immediately.
func (q *Query) Start() {
	q.sub = q.tr.Subscribe(q.events)
	q.wakeCh, q.cancelWake = clock.Default.Subscribe()

	cache := q.tr.Cache()
	q.cancelCacheReissue = cache.OnReissue(q.pruneKnownAnswer)
	q.cancelCacheExpire = cache.OnExpire(q.pruneKnownAnswer)

	if !q.ignoreCache {
		q.consultCache()
	}
	if len(q.questions) == 0 {
		q.Stop()
		return
	}

	go q.run()
}

func (q *Query) consultCache() {
	cache := q.tr.Cache()
	remaining := q.questions[:0]
	for _, question := range q.questions {
		answers := cache.Find(question, 0)
		unique := false
		for _, rec := range answers {
			q.emitAnswer(rec, answers)
			if rec.Unique {
				unique = true
			} else {
				q.knownAnswers[rec.Hash()] = &knownAnswer{record: rec, originalTTL: rec.TTL, learnedAt: time.Now()}
			}
		}
		if !unique || len(answers) == 0 {
			remaining = append(remaining, question)
		}
	}
	q.questions = remaining
}

// pruneKnownAnswer drops rec from the known-answer list on the cache's own
// reissue or expiry notice, so a stale or about-to-be-requeried answer stops
// suppressing this query's next retransmit.
func (q *Query) pruneKnownAnswer(rec *rr.Record) {
	q.mu.Lock()
	delete(q.knownAnswers, rec.Hash())
	q.mu.Unlock()
}

func (q *Query) emitAnswer(rec *rr.Record, siblings []*rr.Record) {
	if q.onAnswer == nil {
		return
	}
	others := make([]*rr.Record, 0, len(siblings))
	for _, s := range siblings {
		if s != rec {
			others = append(others, s)
		}
	}
	q.onAnswer(AnswerEvent{Record: rec, Others: others})
}

func (q *Query) run() {
	defer q.doneOnce.Do(func() { close(q.done) })

	initial := initialDelayLo + time.Duration(rand.Int63n(int64(initialDelayHi-initialDelayLo+1)))
	var timeoutCh <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	sendTimer := time.NewTimer(initial)
	defer sendTimer.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-timeoutCh:
			if q.onTimeout != nil {
				q.onTimeout()
			}
			timeoutCh = nil
		case <-q.wakeCh:
			q.resetOnWake()
			sendTimer.Reset(0)
		case <-sendTimer.C:
			q.mu.Lock()
			stop := len(q.questions) == 0
			q.mu.Unlock()
			if stop {
				q.Stop()
				return
			}
			q.send()
			q.mu.Lock()
			next := q.delay
			q.delay *= 2
			if q.delay > retransmitMax {
				q.delay = retransmitMax
			}
			q.mu.Unlock()
			sendTimer.Reset(next)
		case ev := <-q.events:
			switch ev.Kind {
			case transport.KindAnswer:
				q.handleAnswer(ev)
				if !q.continuous {
					q.Stop()
					return
				}
			case transport.KindQuery:
				if !ev.Local {
					q.suppressDuplicates(ev)
				}
			}
		}
	}
}

func (q *Query) resetOnWake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.knownAnswers = make(map[uint32]*knownAnswer)
	q.delay = retransmitMin
}

func (q *Query) handleAnswer(ev *transport.Event) {
	all := append(append([]*rr.Record(nil), ev.Packet.Answers...), ev.Packet.Additionals...)
	q.mu.Lock()
	remaining := q.questions[:0]
	for _, question := range q.questions {
		matched := false
		for _, rec := range all {
			if rec.CanAnswer(question) {
				matched = true
				others := otherRecords(all, rec)
				q.mu.Unlock()
				q.emitAnswer(rec, append(others, rec))
				q.mu.Lock()
				if rec.Unique {
					// dropped below
				} else {
					q.knownAnswers[rec.Hash()] = &knownAnswer{record: rec, originalTTL: rec.TTL, learnedAt: time.Now()}
				}
			}
		}
		if !matched {
			remaining = append(remaining, question)
			continue
		}
		// drop the question only if some matching record was unique
		dropped := false
		for _, rec := range all {
			if rec.CanAnswer(question) && rec.Unique {
				dropped = true
				break
			}
		}
		if !dropped {
			remaining = append(remaining, question)
		}
	}
	q.questions = remaining
	q.mu.Unlock()
}

func otherRecords(all []*rr.Record, except *rr.Record) []*rr.Record {
	out := make([]*rr.Record, 0, len(all))
	for _, r := range all {
		if r != except {
			out = append(out, r)
		}
	}
	return out
}

// suppressDuplicates removes QM questions from the pending set that also
// appear in an inbound query with an empty known-answer section, per
// RFC 6762 §7.3 duplicate-question suppression.
func (q *Query) suppressDuplicates(ev *transport.Event) {
	if len(ev.Packet.Answers) != 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := q.questions[:0]
	for _, question := range q.questions {
		if question.QU {
			remaining = append(remaining, question)
			continue
		}
		dup := false
		for _, other := range ev.Packet.Questions {
			if !other.QU && question.Equal(other) {
				dup = true
				break
			}
		}
		if !dup {
			remaining = append(remaining, question)
		}
	}
	q.questions = remaining
}

func (q *Query) send() {
	q.mu.Lock()
	pkt := &rr.Packet{Header: rr.Header{}, Questions: append([]*rr.Query(nil), q.questions...)}
	now := time.Now()
	for _, ka := range q.knownAnswers {
		if remainingFraction(ka, now) >= knownAnswerMin {
			clearUnique := *ka.record
			clearUnique.Unique = false
			pkt.Answers = append(pkt.Answers, &clearUnique)
		}
	}
	q.mu.Unlock()

	if len(pkt.Questions) == 0 && len(pkt.Answers) == 0 {
		return
	}
	_ = q.tr.Send(q.ctx, pkt, nil)
}

// remainingFraction reports how much of ka's TTL (as of when it was
// learned) is left at now, as a fraction of that original value. A known
// answer is only folded into a retransmitted query while this is at least
// knownAnswerMin, per RFC 6762 §7.1.
func remainingFraction(ka *knownAnswer, now time.Time) float64 {
	if ka.originalTTL == 0 {
		return 0
	}
	elapsed := now.Sub(ka.learnedAt).Seconds()
	remaining := float64(ka.originalTTL) - elapsed
	if remaining <= 0 {
		return 0
	}
	return remaining / float64(ka.originalTTL)
}

// Stop cancels the query and releases its transport subscription.
func (q *Query) Stop() {
	q.cancel()
	if q.sub != nil {
		q.sub.Cancel()
	}
	if q.cancelWake != nil {
		q.cancelWake()
	}
	if q.cancelCacheReissue != nil {
		q.cancelCacheReissue()
	}
	if q.cancelCacheExpire != nil {
		q.cancelCacheExpire()
	}
	q.timers.ClearAll()
	q.doneOnce.Do(func() { close(q.done) })
	if q.onStop != nil {
		q.onStop()
	}
}

// Done returns a channel closed once the query's run loop exits.
func (q *Query) Done() <-chan struct{} { return q.done }
