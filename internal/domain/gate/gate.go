// Package gate decides whether downstream text corrections may run for a
// given caret snapshot.
package gate

import (
	"github.com/okian/caretd/internal/domain/caret"
)

// Reasons reported with a Decision.
const (
	ReasonPaused       = "paused"
	ReasonIdle         = "idle"
	ReasonSettling     = "settling"
	ReasonPassword     = "password_field"
	ReasonUnfocused    = "unfocused"
	ReasonUserActive   = "user_active"
	ReasonHostBlocked  = "blocked"
	ReasonComposing    = "composing"
	ReasonClipboard    = "clipboard"
	ReasonHistory      = "history"
	ReasonReplacement  = "replacement"
	ReasonSelection    = "selection"
	ReasonNavigation   = "navigation"
	ReasonIdleDisabled = "idle_disabled"
)

// Decision is the gate's verdict for one snapshot.
type Decision struct {
	Allowed bool               `json:"allowed"`
	Reason  string             `json:"reason"`
	State   caret.PrimaryState `json:"state"`
}

// Gate decides whether corrections may be applied.
type Gate interface {
	// Decide evaluates s as observed at nowMS.
	Decide(s caret.Snapshot, nowMS uint64) Decision
}

// Option applies a configuration option to the PolicyGate.
type Option func(*PolicyGate)

// WithActiveIdle allows corrections in ACTIVE_IDLE, not only in pauses.
func WithActiveIdle(allow bool) Option {
	return func(g *PolicyGate) {
		g.allowActiveIdle = allow
	}
}

// WithPasswordFields allows corrections in password fields.
func WithPasswordFields(allow bool) Option {
	return func(g *PolicyGate) {
		g.allowPassword = allow
	}
}

// WithSettleMS requires the snapshot to be at least ms old before allowing.
func WithSettleMS(ms uint64) Option {
	return func(g *PolicyGate) {
		g.settleMS = ms
	}
}

// PolicyGate implements Gate over the primary state ladder.
type PolicyGate struct {
	allowActiveIdle bool
	allowPassword   bool
	settleMS        uint64
}

// New creates a PolicyGate. By default only SHORT_PAUSE and LONG_PAUSE
// outside password fields are allowed.
func New(opts ...Option) *PolicyGate {
	g := &PolicyGate{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide evaluates s as observed at nowMS.
func (g *PolicyGate) Decide(s caret.Snapshot, nowMS uint64) Decision {
	d := Decision{State: s.Primary}

	if s.FieldKind == caret.FieldPassword && !g.allowPassword {
		d.Reason = ReasonPassword
		return d
	}

	switch s.Primary {
	case caret.StateShortPause, caret.StateLongPause:
		d.Allowed, d.Reason = true, ReasonPaused
	case caret.StateActiveIdle:
		if g.allowActiveIdle {
			d.Allowed, d.Reason = true, ReasonIdle
		} else {
			d.Reason = ReasonIdleDisabled
		}
	case caret.StateBlur:
		d.Reason = ReasonUnfocused
	case caret.StateTyping, caret.StateDeleteBurst:
		d.Reason = ReasonUserActive
	case caret.StateBlocked:
		d.Reason = ReasonHostBlocked
	case caret.StateImeComposing:
		d.Reason = ReasonComposing
	case caret.StatePasted, caret.StateCut, caret.StateDrop:
		d.Reason = ReasonClipboard
	case caret.StateUndoRedo:
		d.Reason = ReasonHistory
	case caret.StateAutocorrect:
		d.Reason = ReasonReplacement
	case caret.StateSelectionActive:
		d.Reason = ReasonSelection
	case caret.StateCaretJump:
		d.Reason = ReasonNavigation
	default:
		d.Reason = ReasonUserActive
	}

	if d.Allowed && g.settleMS > 0 && nowMS < s.TimestampMS+g.settleMS {
		d.Allowed, d.Reason = false, ReasonSettling
	}
	return d
}
