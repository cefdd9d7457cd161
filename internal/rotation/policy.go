package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultLimit is the default number of attempts per rotation.
	DefaultLimit = 3

	// MaxLimit caps attempts per rotation regardless of configuration, to
	// bound load on the Tor network.
	MaxLimit = 100

	// DefaultQuota is the default number of requests per identity.
	DefaultQuota = 25

	// DefaultBackoff is the pause between attempts.
	DefaultBackoff = 2 * time.Second
)

// IdentityController requests new circuits and observes the external address.
type IdentityController interface {
	NewCircuit(ctx context.Context) error
	ExternalAddress(ctx context.Context) (string, error)
}

// ClampLimit bounds an attempt limit to [1, MaxLimit].
func ClampLimit(n int) int {
	return min(max(n, 1), MaxLimit)
}

// Policy tracks requests since the last rotation and rotates the identity
// when the quota is exceeded. It is safe for concurrent use; concurrent
// rotations are collapsed into one.
type Policy struct {
	ctrl    IdentityController
	enabled bool
	mode    Mode
	limit   int
	quota   int
	backoff time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	session Session

	group singleflight.Group
}

// Option configures a Policy.
type Option func(*Policy)

// WithEnabled turns rotation on quota on or off. SelfTest and Rotate work
// either way.
func WithEnabled(enabled bool) Option {
	return func(p *Policy) {
		p.enabled = enabled
	}
}

// WithMode sets the enforcement mode.
func WithMode(mode Mode) Option {
	return func(p *Policy) {
		p.mode = mode
	}
}

// WithLimit sets the attempts per rotation, clamped to [1, MaxLimit].
func WithLimit(n int) Option {
	return func(p *Policy) {
		p.limit = ClampLimit(n)
	}
}

// WithQuota sets how many requests an identity serves before rotation.
func WithQuota(n int) Option {
	return func(p *Policy) {
		p.quota = n
	}
}

// WithBackoff sets the pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(p *Policy) {
		p.backoff = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// NewPolicy creates a policy driving ctrl. Defaults: enabled, advisory
// mode, DefaultLimit attempts, DefaultQuota requests, DefaultBackoff.
func NewPolicy(ctrl IdentityController, opts ...Option) *Policy {
	p := &Policy{
		ctrl:    ctrl,
		enabled: true,
		mode:    ModeAdvisory,
		limit:   DefaultLimit,
		quota:   DefaultQuota,
		backoff: DefaultBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Mode returns the enforcement mode.
func (p *Policy) Mode() Mode {
	return p.mode
}

// Limit returns the attempts per rotation.
func (p *Policy) Limit() int {
	return p.limit
}

// Session returns a snapshot of the identity session.
func (p *Policy) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Init probes the starting address so that the first rotation has
// something to compare against. It does nothing in ModeOff.
func (p *Policy) Init(ctx context.Context) error {
	if p.mode == ModeOff {
		return nil
	}
	addr, err := p.ctrl.ExternalAddress(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.session.Address = addr
	p.mu.Unlock()

	p.logger.Info("initial identity", "address", addr)
	return nil
}

// Tick counts one crawl request. When the count exceeds the quota and
// rotation is enabled, it rotates before returning, so the caller never
// proceeds with a stale identity.
func (p *Policy) Tick(ctx context.Context) error {
	p.mu.Lock()
	p.session.RequestsSinceRotation++
	due := p.enabled && p.session.RequestsSinceRotation > p.quota
	count := p.session.RequestsSinceRotation
	p.mu.Unlock()

	if !due {
		return nil
	}
	p.logger.Debug("request quota exceeded, rotating identity", "requests", count, "quota", p.quota)
	_, err := p.Rotate(ctx)
	return err
}

// Rotate runs one rotation. Callers that arrive while a rotation is in
// flight share its result.
func (p *Policy) Rotate(ctx context.Context) (Outcome, error) {
	v, err, _ := p.group.Do("rotate", func() (any, error) {
		return p.rotate(ctx)
	})
	outcome, _ := v.(Outcome) //nolint:errcheck // rotate always returns an Outcome
	return outcome, err
}

func (p *Policy) rotate(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	previous := p.session.Address
	p.session.State = StateRotating
	p.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= p.limit; attempt++ {
		addr, err := p.attempt(ctx)
		switch {
		case err == nil && (p.mode == ModeOff || addr != previous):
			return p.verified(previous, addr, attempt), nil
		case err != nil:
			lastErr = err
			p.logger.Warn("rotation attempt failed", "attempt", attempt, "limit", p.limit, "error", err)
		default:
			lastErr = nil
			p.logger.Debug("address unchanged after new circuit", "attempt", attempt, "limit", p.limit, "address", addr)
		}

		if ctx.Err() != nil {
			return p.exhausted(previous, attempt, ctx.Err()), ctx.Err()
		}
		if attempt < p.limit {
			if err := wait(ctx, p.backoff); err != nil {
				return p.exhausted(previous, attempt, err), err
			}
		}
	}

	outcome := p.exhausted(previous, p.limit, lastErr)
	switch {
	case lastErr != nil:
		return outcome, fmt.Errorf("%w after %d attempts: %w", ErrRotationExhausted, p.limit, lastErr)
	case p.mode == ModeStrict:
		return outcome, fmt.Errorf("%w: address %s unchanged after %d attempts", ErrRotationExhausted, previous, p.limit)
	default:
		p.logger.Warn("identity rotation not verified, continuing with current identity",
			"address", previous, "attempts", p.limit)
		return outcome, nil
	}
}

// attempt draws a new circuit and probes the resulting address. In
// ModeOff a failed probe is not an error, since nothing is verified.
func (p *Policy) attempt(ctx context.Context) (string, error) {
	if err := p.ctrl.NewCircuit(ctx); err != nil {
		return "", err
	}
	addr, err := p.ctrl.ExternalAddress(ctx)
	if err != nil {
		if p.mode == ModeOff {
			p.logger.Debug("address probe failed, accepting rotation unverified", "error", err)
			return p.Session().Address, nil
		}
		return "", err
	}
	return addr, nil
}

func (p *Policy) verified(previous, addr string, attempts int) Outcome {
	p.mu.Lock()
	p.session.Address = addr
	p.session.RequestsSinceRotation = 0
	p.session.Rotations++
	p.session.LastRotation = p.now()
	p.session.State = StateVerified
	p.mu.Unlock()

	p.logger.Info("identity rotated", "from", previous, "to", addr, "attempts", attempts)
	return Outcome{
		State:    StateVerified,
		Attempts: attempts,
		Previous: previous,
		Address:  addr,
	}
}

// exhausted records a failed rotation. RequestsSinceRotation is left as
// is, so the next Tick tries again.
func (p *Policy) exhausted(previous string, attempts int, lastErr error) Outcome {
	p.mu.Lock()
	p.session.Exhaustions++
	p.session.State = StateExhausted
	p.mu.Unlock()

	return Outcome{
		State:    StateExhausted,
		Attempts: attempts,
		Previous: previous,
		Address:  previous,
		LastErr:  lastErr,
	}
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsFatal reports whether err from Tick or Rotate should stop a crawl.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRotationExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
