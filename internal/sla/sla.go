package sla

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"fleetpulse/internal/clock"
	"fleetpulse/internal/domain"
)

// Class is the SLA urgency bucket of an alert.
type Class string

const (
	// ClassExpired means the due time has passed.
	ClassExpired Class = "expired"
	// ClassWarning means the due time is within the warning margin.
	ClassWarning Class = "warning"
	// ClassOK means the due time is comfortably ahead.
	ClassOK Class = "ok"
	// ClassNone is held by resolved alerts; it ranks last and is never selectable.
	ClassNone Class = "none"
)

// Rank orders classes by urgency: expired < warning < ok < none.
func (c Class) Rank() int {
	switch c {
	case ClassExpired:
		return 0
	case ClassWarning:
		return 1
	case ClassOK:
		return 2
	default:
		return 3
	}
}

// ParseClass normalizes a user supplied SLA class.
// Params: raw class text.
// Returns: class or error for unknown values.
func ParseClass(raw string) (Class, error) {
	class := Class(strings.ToLower(strings.TrimSpace(raw)))
	if class.Rank() > 2 {
		return "", fmt.Errorf("unsupported sla class %q", raw)
	}
	return class, nil
}

// Policy holds due-time offsets per severity and the warning margin.
// Params: critical and default offsets plus warning margin.
// Returns: SLA policy value.
type Policy struct {
	Critical time.Duration
	Default  time.Duration
	Warning  time.Duration
}

// DefaultPolicy returns critical +1h, others +4h, warning 30m.
func DefaultPolicy() Policy {
	return Policy{
		Critical: time.Hour,
		Default:  4 * time.Hour,
		Warning:  30 * time.Minute,
	}
}

// DueAt derives the due time from open time and severity.
// Params: alert open time and severity.
// Returns: openedAt plus the severity offset.
func (p Policy) DueAt(openedAt time.Time, severity domain.Severity) time.Time {
	if severity == domain.SeverityCritical {
		return openedAt.Add(p.Critical)
	}
	return openedAt.Add(p.Default)
}

// Classify buckets the remaining time until dueAt.
// Params: current time and due time.
// Returns: expired when now >= dueAt, warning inside the margin, ok otherwise.
func (p Policy) Classify(now, dueAt time.Time) Class {
	if !now.Before(dueAt) {
		return ClassExpired
	}
	if dueAt.Sub(now) <= p.Warning {
		return ClassWarning
	}
	return ClassOK
}

// ClassOf classifies an alert at now; resolved alerts are ClassNone.
func (p Policy) ClassOf(now time.Time, alert domain.Alert) Class {
	if alert.Resolved() {
		return ClassNone
	}
	return p.Classify(now, p.DueAt(alert.OpenedAt, alert.Severity))
}

// DefaultStep is the coarse tick classifications are memoized for.
const DefaultStep = 15 * time.Second

// Evaluator memoizes alert classifications per coarse clock tick.
// Params: policy, clock and tick step.
// Returns: evaluator handing out per-tick snapshots.
type Evaluator struct {
	policy Policy
	clock  clock.Clock
	step   time.Duration

	mu   sync.Mutex
	tick time.Time
	memo map[memoKey]Class
}

type memoKey struct {
	id       string
	openedAt int64
	severity domain.Severity
	resolved bool
}

// NewEvaluator creates evaluator over injected clock.
// Params: policy, clock (real clock when nil), tick step (DefaultStep when <= 0).
// Returns: evaluator.
func NewEvaluator(policy Policy, clk clock.Clock, step time.Duration) *Evaluator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if step <= 0 {
		step = DefaultStep
	}
	return &Evaluator{
		policy: policy,
		clock:  clk,
		step:   step,
		memo:   make(map[memoKey]Class),
	}
}

// Policy returns evaluator policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Snapshot captures current tick for a consistent pass over many alerts.
// Params: none.
// Returns: snapshot whose Now is truncated to the tick step.
func (e *Evaluator) Snapshot() Snapshot {
	now := e.clock.Now().Truncate(e.step)
	e.mu.Lock()
	if !now.Equal(e.tick) {
		e.tick = now
		e.memo = make(map[memoKey]Class)
	}
	e.mu.Unlock()
	return Snapshot{Now: now, Policy: e.policy, eval: e}
}

func (e *Evaluator) classAt(now time.Time, alert domain.Alert) Class {
	key := memoKey{id: alert.ID, openedAt: alert.OpenedAt.UnixNano(), severity: alert.Severity, resolved: alert.Resolved()}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !now.Equal(e.tick) {
		return e.policy.ClassOf(now, alert)
	}
	if class, ok := e.memo[key]; ok {
		return class
	}
	class := e.policy.ClassOf(now, alert)
	e.memo[key] = class
	return class
}

// Snapshot is a fixed "now" plus policy used for one filter/sort/count pass.
// A zero-value eval computes classes directly without memoization.
type Snapshot struct {
	Now    time.Time
	Policy Policy
	eval   *Evaluator
}

// At builds snapshot without memoization.
// Params: policy and evaluation time.
// Returns: snapshot.
func At(policy Policy, now time.Time) Snapshot {
	return Snapshot{Now: now, Policy: policy}
}

// ClassOf returns SLA class of alert at snapshot time.
func (s Snapshot) ClassOf(alert domain.Alert) Class {
	if s.eval != nil {
		return s.eval.classAt(s.Now, alert)
	}
	return s.Policy.ClassOf(s.Now, alert)
}

// DueAt returns due time of alert under snapshot policy.
func (s Snapshot) DueAt(alert domain.Alert) time.Time {
	return s.Policy.DueAt(alert.OpenedAt, alert.Severity)
}
