package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// DefaultMaxAttempts is the number of delivery attempts per notification.
const DefaultMaxAttempts = 3

// DefaultDelays are the waits between consecutive attempts. The last entry
// repeats if MaxAttempts exceeds len(delays)+1.
var DefaultDelays = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

// ErrNoMailer is returned when the sender has no transport configured.
var ErrNoMailer = errors.New("notify: no mailer configured")

// Message is a rendered email.
type Message struct {
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Mailer is the email transport collaborator.
type Mailer interface {
	// Send delivers msg and returns the provider's message id.
	Send(ctx context.Context, msg Message) (string, error)
}

// Payload is one notification addressed to a subscriber.
type Payload struct {
	UserID  string           `json:"user_id"`
	Kind    domain.EmailKind `json:"kind"`
	Message Message          `json:"message"`
}

// Attempt describes one delivery try and its outcome.
type Attempt struct {
	Payload   Payload
	Number    int
	MessageID string
	Err       error
	At        time.Time
}

// Succeeded reports whether the attempt delivered the message.
func (a Attempt) Succeeded() bool { return a.Err == nil }

// Observer is told about every attempt, successful or not.
type Observer func(ctx context.Context, a Attempt)

// Result is the outcome of a send.
type Result struct {
	Success   bool
	MessageID string
	Err       error
	Attempts  int
}

// Config tunes retry behaviour. Zero fields take defaults.
type Config struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Sender sends notifications through a Mailer with retries.
type Sender struct {
	mailer      Mailer
	maxAttempts int
	delays      []time.Duration
	observer    Observer
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// NewSender creates a sender.
func NewSender(mailer Mailer, cfg Config) *Sender {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if len(cfg.Delays) == 0 {
		cfg.Delays = DefaultDelays
	}
	return &Sender{
		mailer:      mailer,
		maxAttempts: cfg.MaxAttempts,
		delays:      cfg.Delays,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

// SetObserver installs the attempt observer.
func (s *Sender) SetObserver(o Observer) { s.observer = o }

// SetClock overrides the attempt timestamp source (tests).
func (s *Sender) SetClock(now func() time.Time) { s.now = now }

// MaxAttempts returns the configured attempt budget.
func (s *Sender) MaxAttempts() int { return s.maxAttempts }

// DelayAfter returns the wait before the attempt following attempt n.
func (s *Sender) DelayAfter(n int) time.Duration {
	i := n - 1
	if i < 0 {
		i = 0
	}
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	}
	return s.delays[i]
}

// SendOnce makes attempt number n and reports it to the observer.
func (s *Sender) SendOnce(ctx context.Context, p Payload, n int) Result {
	a := Attempt{Payload: p, Number: n, At: s.now()}
	if s.mailer == nil {
		a.Err = ErrNoMailer
	} else {
		a.MessageID, a.Err = s.mailer.Send(ctx, p.Message)
	}
	if s.observer != nil {
		s.observer(ctx, a)
	}
	if a.Err != nil {
		return Result{Err: fmt.Errorf("attempt %d: %w", n, a.Err), Attempts: n}
	}
	return Result{Success: true, MessageID: a.MessageID, Attempts: n}
}

// SendWithRetry attempts delivery up to MaxAttempts times, waiting the
// configured delay between attempts. It returns on the first success, or
// with the last failure once attempts or ctx are exhausted.
func (s *Sender) SendWithRetry(ctx context.Context, p Payload) Result {
	var last Result
	for n := 1; n <= s.maxAttempts; n++ {
		if n > 1 {
			if err := s.sleep(ctx, s.DelayAfter(n-1)); err != nil {
				last.Err = fmt.Errorf("retry aborted after attempt %d: %w", n-1, err)
				return last
			}
		}
		last = s.SendOnce(ctx, p, n)
		if last.Success {
			return last
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
