// Package events fans progress events out to subscribers. A Publisher is
// owned by whoever constructs it; there is no process-wide bus.
package events

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
)

// Handler receives one event. It runs on the publishing goroutine and should
// return quickly.
type Handler func(ev domain.ProgressEvent)

// Stats contains publisher counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Panics      int64 `json:"panics"`
}

type subscription struct {
	handler Handler
	filter  func(domain.ProgressEvent) bool
}

// Publisher delivers every published event to all current subscribers.
// Subscribe, unsubscribe and Publish may be called concurrently.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64

	logger *infra.Logger

	published atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// NewPublisher creates an empty publisher. A nil logger discards output.
func NewPublisher(logger *infra.Logger) *Publisher {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Publisher{
		subs:   make(map[uint64]*subscription),
		logger: logger,
	}
}

// Subscribe registers h for every event. The returned function removes the
// subscription and is safe to call more than once.
func (p *Publisher) Subscribe(h Handler) func() {
	return p.add(&subscription{handler: h})
}

// SubscribeJob registers h for the events of a single job.
func (p *Publisher) SubscribeJob(jobID string, h Handler) func() {
	return p.add(&subscription{
		handler: h,
		filter:  func(ev domain.ProgressEvent) bool { return ev.JobID == jobID },
	})
}

// SubscribeChan delivers events on a buffered channel. When the buffer is
// full the event is dropped for this subscriber only. The channel is closed
// by the returned unsubscribe function. filter may be nil.
func (p *Publisher) SubscribeChan(buffer int, filter func(domain.ProgressEvent) bool) (<-chan domain.ProgressEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	cs := &chanSub{ch: make(chan domain.ProgressEvent, buffer)}
	remove := p.add(&subscription{
		handler: func(ev domain.ProgressEvent) {
			if !cs.send(ev) {
				p.dropped.Add(1)
			}
		},
		filter: filter,
	})
	var once sync.Once
	return cs.ch, func() {
		once.Do(func() {
			remove()
			cs.close()
		})
	}
}

// Publish is fire-and-forget: a subscriber that panics is logged and skipped.
func (p *Publisher) Publish(ev domain.ProgressEvent) {
	p.mu.RLock()
	targets := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		targets = append(targets, s)
	}
	p.mu.RUnlock()

	p.published.Add(1)
	for _, s := range targets {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		p.deliver(s, ev)
	}
}

// Stats returns publisher counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	n := len(p.subs)
	p.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		Panics:      p.panics.Load(),
	}
}

func (p *Publisher) add(s *subscription) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = s
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *Publisher) deliver(s *subscription, ev domain.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error().
				Interface("panic", r).
				Str("job_id", ev.JobID).
				Str("status", string(ev.Status)).
				Msg("events: subscriber panicked")
		}
	}()
	s.handler(ev)
}

// chanSub guards its channel so a late Publish never sends on a closed channel.
type chanSub struct {
	mu     sync.Mutex
	ch     chan domain.ProgressEvent
	closed bool
}

func (c *chanSub) send(ev domain.ProgressEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.ch <- ev:
		return true
	default:
		return false
	}
}

func (c *chanSub) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
