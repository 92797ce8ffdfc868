package caret

import "strings"

// Input-type hints recognised by the detectors.
const (
	inputTypeDeleteBackward = "deleteContentBackward"
	inputTypePaste          = "insertFromPaste"
	inputTypeDrop           = "insertFromDrop"
	inputTypeReplacement    = "insertReplacementText"
	inputTypeHistoryUndo    = "historyUndo"
	inputTypeHistoryRedo    = "historyRedo"
)

// signals are the per-event detector outcomes fed to the ladder.
type signals struct {
	typing      bool
	selection   bool
	deleteBurst bool
	caretJump   bool
	undoRedo    bool
	drop        bool
	autocorrect bool
}

// classify applies the precedence ladder; the first matching rung wins.
func (e *Engine) classify(ev Event, now uint64, sig signals) PrimaryState {
	switch {
	case ev.Blocked:
		return StateBlocked
	case ev.IMEActive:
		return StateImeComposing
	case now < e.decayUntil:
		return e.decayState()
	case sig.undoRedo && e.policy.ClassifyUndoRedo:
		return StateUndoRedo
	case sig.drop && e.policy.ClassifyDrop:
		return StateDrop
	case sig.autocorrect && e.policy.ClassifyAutocorrect:
		return StateAutocorrect
	case sig.deleteBurst:
		return StateDeleteBurst
	case sig.caretJump:
		return StateCaretJump
	case sig.typing:
		return StateTyping
	case sig.selection:
		return StateSelectionActive
	case ev.Kind == KindFocusOut:
		return StateBlur
	default:
		return StateActiveIdle
	}
}

// overlay applies typing cadence to the soft states. Hard overrides pass
// through; LONG_PAUSE holds until an event yields a different base.
func (e *Engine) overlay(base PrimaryState, now uint64) PrimaryState {
	switch base {
	case StateBlocked, StateImeComposing, StatePasted, StateCut, StateDeleteBurst,
		StateSelectionActive, StateCaretJump, StateUndoRedo, StateDrop,
		StateAutocorrect, StateBlur:
		return base
	case StateTyping, StateActiveIdle, StateShortPause:
		idle := since(now, e.lastTyping)
		switch {
		case idle >= e.thresholds.LongPauseMS:
			return StateLongPause
		case idle >= e.thresholds.ShortPauseMS:
			return StateShortPause
		case base == StateTyping:
			return StateTyping
		default:
			return StateActiveIdle
		}
	case StateLongPause:
		return StateLongPause
	default:
		return base
	}
}

func (e *Engine) decayState() PrimaryState {
	if e.decayFrom == decayCut && e.policy.ClassifyCut {
		return StateCut
	}
	return StatePasted
}

// trackDecay opens the paste/cut decay window.
func (e *Engine) trackDecay(ev Event, now uint64) {
	switch {
	case ev.Kind == KindPaste || ev.InputType == inputTypePaste:
		e.decayUntil = now + e.thresholds.DecayMS
		e.decayFrom = decayPaste
		e.stats.Pastes++
	case ev.Kind == KindCut:
		e.decayUntil = now + e.thresholds.DecayMS
		e.decayFrom = decayCut
		e.stats.Cuts++
	}
}

func (e *Engine) trackUndoRedo(ev Event) bool {
	if ev.Kind == KindUndo || ev.Kind == KindRedo ||
		ev.InputType == inputTypeHistoryUndo || ev.InputType == inputTypeHistoryRedo {
		e.stats.UndosRedos++
		return true
	}
	return false
}

func (e *Engine) trackDrop(ev Event) bool {
	if ev.Kind == KindDrop || ev.InputType == inputTypeDrop {
		e.stats.Drops++
		return true
	}
	return false
}

func (e *Engine) trackAutocorrect(ev Event) bool {
	if ev.Kind == KindAutocorrect || ev.InputType == inputTypeReplacement {
		e.stats.Autocorrects++
		return true
	}
	return false
}

func isDelete(ev Event) bool {
	if strings.Contains(ev.InputType, "delete") {
		return true
	}
	return (ev.Kind == KindInput || ev.Kind == KindBeforeInput) && ev.InputType == inputTypeDeleteBackward
}

// trackDelete updates the rolling delete window and reports whether this
// event completed a burst.
func (e *Engine) trackDelete(ev Event, now uint64) bool {
	if !isDelete(ev) {
		return false
	}
	e.stats.DeletesSeen++
	if since(now, e.lastDelete) <= e.thresholds.DeleteBurstWindow {
		if e.deleteCount < ^uint32(0) {
			e.deleteCount++
		}
	} else {
		e.deleteCount = 1
	}
	e.lastDelete = now
	if e.deleteCount >= e.thresholds.DeleteBurstMin {
		e.stats.DeleteBursts++
		return true
	}
	return false
}

func isTypingKind(k EventKind) bool {
	switch k {
	case KindInput, KindBeforeInput, KindCompositionUpdate, KindKeyDown:
		return true
	default:
		return false
	}
}

// trackTyping records a keystroke for typing-ish events outside the decay
// window that did not complete a delete burst.
func (e *Engine) trackTyping(ev Event, now uint64, deleteBurst bool) bool {
	if !isTypingKind(ev.Kind) || deleteBurst || now < e.decayUntil {
		return false
	}
	e.lastTyping = now
	if e.hasKey {
		e.stats.observeInterval(float64(now-e.lastKey), e.thresholds.ShortPauseMS)
	} else {
		e.stats.BurstLenCurrent = 1
		e.stats.BurstLenMax = max(e.stats.BurstLenMax, 1)
	}
	e.stats.Keystrokes++
	e.lastKey = now
	e.hasKey = true
	return true
}

// trackCaret reports a jump when a collapsed caret moved at least the
// threshold since the previous event. The previous caret always advances.
func (e *Engine) trackCaret(ev Event) bool {
	jump := false
	if ev.Selection.Collapsed && e.hasCaret {
		d := distance(e.lastCaret, ev.Caret)
		if d >= e.thresholds.JumpThresholdChars {
			jump = true
			e.stats.CaretJumps++
		}
	}
	e.lastCaret = ev.Caret
	e.hasCaret = true
	return jump
}

func distance(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
