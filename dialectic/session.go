package dialectic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/concepteng/concept"
)

// State is a position in the dialectic session.
type State string

const (
	StateClassifying       State = "classifying"
	StateAwaitingChallenge State = "awaiting_challenge"
	StateValidating        State = "validating"
	StateRevising          State = "revising"
	StateTerminated        State = "terminated"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// CanTransitionTo reports whether the session may move from s to target.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateClassifying:
		return target == StateAwaitingChallenge || target == StateTerminated
	case StateAwaitingChallenge:
		return target == StateValidating || target == StateTerminated
	case StateValidating:
		// false verdicts may send the session back for another challenge
		return target == StateRevising || target == StateAwaitingChallenge || target == StateTerminated
	case StateRevising:
		return target == StateClassifying || target == StateTerminated
	default:
		return false
	}
}

// ErrInvalidTransition is returned when the session would move between
// states the state machine does not connect.
var ErrInvalidTransition = errors.New("invalid session transition")

// Transition returns target when s may move to it.
func (s State) Transition(target State) (State, error) {
	if !s.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, target)
	}
	return target, nil
}

// StopReason says why a session terminated.
type StopReason string

const (
	StopMaxIterations         StopReason = "max_iterations"
	StopUnknownVerdict        StopReason = "unknown_verdict"
	StopRejected              StopReason = "rejected"
	StopCounterexampleRefuted StopReason = "counterexample_refuted"
)

// OnFalse selects what happens when a counterexample is judged invalid.
type OnFalse string

const (
	// OnFalseRetry discards the counterexample and asks for another.
	OnFalseRetry OnFalse = "retry"
	// OnFalseTerminate ends the session.
	OnFalseTerminate OnFalse = "terminate"
)

// DefaultMaxIterations bounds the number of challenges in a session.
const DefaultMaxIterations = 5

// AcceptFunc decides whether a proposed revision is committed.
type AcceptFunc func(ctx context.Context, current concept.Concept, revision concept.DefinitionRevision) (bool, error)

// DescribeFunc looks up a description for a counterexample by name.
type DescribeFunc func(ctx context.Context, name string) (string, error)

// SessionOptions configures a Session.
type SessionOptions struct {
	// MaxIterations is the number of counterexample challenges allowed.
	// Zero means DefaultMaxIterations.
	MaxIterations int

	// OnFalse defaults to OnFalseRetry.
	OnFalse OnFalse

	// Accept defaults to accepting every revision.
	Accept AcceptFunc

	// Describe defaults to leaving descriptions empty.
	Describe DescribeFunc

	Logger *slog.Logger
}

// Event is one operation performed during a session. Exactly one of the
// result fields is set.
type Event struct {
	Iteration      int                               `json:"iteration"`
	State          State                             `json:"state"`
	Classification *concept.Classification           `json:"classification,omitempty"`
	Proposal       *concept.CounterexampleProposal   `json:"proposal,omitempty"`
	Validation     *concept.CounterexampleValidation `json:"validation,omitempty"`
	Revision       *concept.DefinitionRevision       `json:"revision,omitempty"`
	Committed      bool                              `json:"committed,omitempty"`
	At             time.Time                         `json:"at"`
}

// Transcript records a session from start to stop.
type Transcript struct {
	Initial    concept.Concept `json:"initial"`
	Final      concept.Concept `json:"final"`
	Entity     concept.Entity  `json:"entity"`
	Events     []Event         `json:"events"`
	History    []string        `json:"history"`
	Iterations int             `json:"iterations"`
	StopReason StopReason      `json:"stop_reason,omitempty"`
}

// Session drives the engine through classify, challenge, validate and
// revise until a stop condition is reached.
type Session struct {
	engine *Engine
	opts   SessionOptions
	logger *slog.Logger
}

// NewSession returns a session with defaults filled in.
func NewSession(engine *Engine, opts SessionOptions) (*Session, error) {
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must not be negative")
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	switch opts.OnFalse {
	case "":
		opts.OnFalse = OnFalseRetry
	case OnFalseRetry, OnFalseTerminate:
	default:
		return nil, fmt.Errorf("unknown on_false policy %q", opts.OnFalse)
	}
	if opts.Accept == nil {
		opts.Accept = func(context.Context, concept.Concept, concept.DefinitionRevision) (bool, error) {
			return true, nil
		}
	}
	if opts.Describe == nil {
		opts.Describe = func(context.Context, string) (string, error) { return "", nil }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{engine: engine, opts: opts, logger: logger}, nil
}

// Run plays the session for c and entity. The caller's concept is never
// modified; the revised concept is Transcript.Final. On error the
// transcript holds every event up to the failure and has no stop reason.
func (s *Session) Run(ctx context.Context, c concept.Concept, entity concept.Entity) (*Transcript, error) {
	tr := &Transcript{
		Initial: c,
		Final:   c,
		Entity:  entity,
		History: []string{c.Definition},
	}

	state := StateClassifying
	var pending concept.CounterexampleProposal
	var description string

	for state != StateTerminated {
		if err := ctx.Err(); err != nil {
			return tr, err
		}

		var next State
		var reason StopReason

		switch state {
		case StateClassifying:
			cl, err := s.engine.Classify(ctx, tr.Final, entity)
			if err != nil {
				return tr, err
			}
			tr.record(state, Event{Classification: &cl})
			if tr.Iterations >= s.opts.MaxIterations {
				next, reason = StateTerminated, StopMaxIterations
			} else {
				next = StateAwaitingChallenge
			}

		case StateAwaitingChallenge:
			if tr.Iterations >= s.opts.MaxIterations {
				next, reason = StateTerminated, StopMaxIterations
				break
			}
			tr.Iterations++
			p, err := s.engine.ProposeCounterexample(ctx, tr.Final)
			if err != nil {
				return tr, err
			}
			tr.record(state, Event{Proposal: &p})
			pending = p
			description, err = s.opts.Describe(ctx, p.Counterexample)
			if err != nil {
				return tr, fmt.Errorf("describe %s: %w", p.Counterexample, err)
			}
			next = StateValidating

		case StateValidating:
			v, err := s.engine.ValidateCounterexample(ctx, tr.Final, pending.Counterexample, description)
			if err != nil {
				return tr, err
			}
			tr.record(state, Event{Validation: &v})
			switch v.Verdict {
			case concept.VerdictTrue:
				next = StateRevising
			case concept.VerdictFalse:
				if s.opts.OnFalse == OnFalseTerminate {
					next, reason = StateTerminated, StopCounterexampleRefuted
				} else {
					next = StateAwaitingChallenge
				}
			default:
				next, reason = StateTerminated, StopUnknownVerdict
			}

		case StateRevising:
			r, err := s.engine.ReviseDefinition(ctx, tr.Final, pending.Counterexample, description)
			if err != nil {
				return tr, err
			}
			ok, err := s.opts.Accept(ctx, tr.Final, r)
			if err != nil {
				return tr, fmt.Errorf("accept revision: %w", err)
			}
			if !ok {
				tr.record(state, Event{Revision: &r})
				next, reason = StateTerminated, StopRejected
				break
			}
			revised, err := r.Apply(tr.Final)
			if err != nil {
				return tr, err
			}
			tr.record(state, Event{Revision: &r, Committed: true})
			tr.Final = revised
			tr.History = append(tr.History, revised.Definition)
			next = StateClassifying
		}

		moved, err := state.Transition(next)
		if err != nil {
			return tr, err
		}
		s.logger.Debug("Session transition", "from", state, "to", moved, "iteration", tr.Iterations)
		state = moved

		if state == StateTerminated {
			tr.StopReason = reason
			s.logger.Info("Session stopped",
				"concept", c.ID,
				"reason", reason,
				"iterations", tr.Iterations,
				"revisions", len(tr.History)-1)
		}
	}

	return tr, nil
}

func (t *Transcript) record(state State, ev Event) {
	ev.Iteration = t.Iterations
	ev.State = state
	ev.At = time.Now().UTC()
	t.Events = append(t.Events, ev)
}
