// Package resilience guards external source lookups with retries and
// per-source circuit breakers.
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without calling the source while its circuit is open.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a source is taken out of rotation.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures int
	// Cooldown is how long an open circuit rejects calls before letting a
	// probe through.
	Cooldown time.Duration
	// Counts decides which errors count as failures. Defaults to any error.
	Counts func(error) bool
}

// DefaultBreakerConfig opens after 5 failures for 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, Cooldown: 30 * time.Second}
}

// Breaker is a circuit breaker for one source.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.Failures <= 0 {
		cfg.Failures = d.Failures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return err != nil }
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Call runs fn unless the circuit is open. While half-open only one probe
// runs at a time; concurrent callers get ErrOpen.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return eris.Wrapf(ErrOpen, "source %s", b.name)
		}
		b.setState(HalfOpen)
		b.probing = true
	case HalfOpen:
		if b.probing {
			return eris.Wrapf(ErrOpen, "source %s probing", b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil || !b.cfg.Counts(err) {
		b.failures = 0
		if b.state != Closed {
			b.setState(Closed)
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Failures {
		b.openedAt = b.now()
		if b.state != Open {
			b.setState(Open)
		}
	}
}

func (b *Breaker) setState(to State) {
	zap.L().Info("resilience: circuit state change",
		zap.String("source", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}

// Breakers holds one Breaker per source name.
type Breakers struct {
	cfg BreakerConfig

	mu sync.Mutex
	m  map[string]*Breaker
}

// NewBreakers creates an empty set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

// For returns the breaker for source, creating it on first use.
func (bs *Breakers) For(source string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[source]
	if !ok {
		b = NewBreaker(source, bs.cfg)
		bs.m[source] = b
	}
	return b
}

// SourceState pairs a source with its breaker state.
type SourceState struct {
	Source string `json:"source"`
	State  string `json:"state"`
}

// Snapshot lists every known breaker, sorted by source name.
func (bs *Breakers) Snapshot() []SourceState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]SourceState, 0, len(bs.m))
	for name, b := range bs.m {
		out = append(out, SourceState{Source: name, State: b.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
