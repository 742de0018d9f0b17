// Package approval gates risky operations behind an explicit confirmation.
//
// A confirmation that never arrives resolves as a timeout after the
// configured deadline; the gate never blocks indefinitely.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
)

// DefaultTimeout bounds how long the gate waits for an answer.
const DefaultTimeout = 5 * time.Minute

// Outcome is how a confirmation request was resolved.
type Outcome string

const (
	OutcomeNotRequired  Outcome = "not_required"
	OutcomeConfirmed    Outcome = "confirmed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeAutoRejected Outcome = "auto_rejected"
	OutcomeTimeout      Outcome = "timeout"
)

// Request describes the operation awaiting confirmation.
type Request struct {
	PlanID      string
	OperationID string
	FlagKey     string
	Action      string
	RiskLevel   drift.RiskLevel
	Reason      string
}

// Decision is the resolved confirmation. Confirmed is true only for
// not_required and confirmed outcomes.
type Decision struct {
	Outcome   Outcome   `json:"outcome"`
	Confirmed bool      `json:"confirmed"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Confirmer asks someone to approve a request.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req Request) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// Config selects which risk levels need explicit confirmation.
type Config struct {
	Interactive        bool
	RequireExplicitFor []drift.RiskLevel
	Timeout            time.Duration
}

// DefaultConfig requires confirmation for high and critical risk.
func DefaultConfig() Config {
	return Config{
		Interactive:        false,
		RequireExplicitFor: []drift.RiskLevel{drift.RiskHigh, drift.RiskCritical},
		Timeout:            DefaultTimeout,
	}
}

// Gate resolves confirmation requests.
type Gate struct {
	cfg       Config
	confirmer Confirmer
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
}

// NewGate creates a gate. confirmer may be nil when Interactive is false.
func NewGate(cfg Config, confirmer Confirmer, m *metrics.Metrics, logger *log.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Gate{
		cfg:       cfg,
		confirmer: confirmer,
		metrics:   m,
		logger:    log.OrDefault(logger).WithComponent("approval"),
		now:       time.Now,
	}
}

// Requires reports whether risk needs explicit confirmation.
func (g *Gate) Requires(risk drift.RiskLevel) bool {
	for _, r := range g.cfg.RequireExplicitFor {
		if r == risk {
			return true
		}
	}
	return false
}

type answer struct {
	ok  bool
	err error
}

// Decide resolves req. Without an interactive confirmer, requests that need
// confirmation are rejected automatically.
func (g *Gate) Decide(ctx context.Context, req Request) Decision {
	d := g.decide(ctx, req)
	d.DecidedAt = g.now().UTC()

	g.metrics.RecordConfirmation(string(d.Outcome))
	if d.Outcome != OutcomeNotRequired {
		g.logger.Info("confirmation resolved",
			"plan_id", req.PlanID,
			"operation_id", req.OperationID,
			"flag", req.FlagKey,
			"risk", req.RiskLevel,
			"outcome", d.Outcome,
		)
	}
	return d
}

func (g *Gate) decide(ctx context.Context, req Request) Decision {
	if !g.Requires(req.RiskLevel) {
		return Decision{Outcome: OutcomeNotRequired, Confirmed: true}
	}
	if !g.cfg.Interactive || g.confirmer == nil {
		return Decision{
			Outcome: OutcomeAutoRejected,
			Reason:  fmt.Sprintf("%s risk requires explicit confirmation and interactive mode is disabled", req.RiskLevel),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	// Buffered so a confirmer that ignores ctx cannot leak the goroutine on a send.
	ch := make(chan answer, 1)
	go func() {
		ok, err := g.confirmer.Confirm(ctx, req)
		ch <- answer{ok: ok, err: err}
	}()

	select {
	case a := <-ch:
		switch {
		case a.err != nil && errors.Is(a.err, context.DeadlineExceeded):
			return timeoutDecision(g.cfg.Timeout)
		case a.err != nil:
			return Decision{Outcome: OutcomeRejected, Reason: a.err.Error()}
		case a.ok:
			return Decision{Outcome: OutcomeConfirmed, Confirmed: true}
		default:
			return Decision{Outcome: OutcomeRejected, Reason: "declined"}
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutDecision(g.cfg.Timeout)
		}
		return Decision{Outcome: OutcomeRejected, Reason: ctx.Err().Error()}
	}
}

func timeoutDecision(d time.Duration) Decision {
	return Decision{Outcome: OutcomeTimeout, Reason: fmt.Sprintf("no answer within %s", d)}
}
