package caret

import (
	"fmt"
)

// Default threshold values.
const (
	DefaultShortPauseMS       = 300
	DefaultLongPauseMS        = 2000
	DefaultDecayMS            = 500
	DefaultJumpThresholdChars = 6
	DefaultDeleteBurstWindow  = 250
	DefaultDeleteBurstMin     = 3
)

// Selection describes the current selection range. A collapsed selection
// is a plain caret.
type Selection struct {
	Collapsed bool   `json:"collapsed"`
	Start     uint32 `json:"start"`
	End       uint32 `json:"end"`
}

// Active reports whether the selection covers at least one character.
func (s Selection) Active() bool {
	return !s.Collapsed && s.End > s.Start
}

// Event is a normalized input event. InputType carries the optional
// platform input-type hint (for example "deleteContentBackward"); empty
// means absent.
type Event struct {
	Kind        EventKind     `json:"kind"`
	TimestampMS uint64        `json:"timestamp_ms"`
	Caret       uint32        `json:"caret"`
	TextLen     uint32        `json:"text_len"`
	Selection   Selection     `json:"selection"`
	Modality    InputModality `json:"input_modality"`
	FieldKind   FieldKind     `json:"field_kind"`
	IMEActive   bool          `json:"ime_active"`
	Blocked     bool          `json:"blocked"`
	InputType   string        `json:"input_type,omitempty"`
}

// Validate checks that the enum fields are known and the selection is ordered.
func (e Event) Validate() error {
	switch {
	case !e.Kind.Valid():
		return fmt.Errorf("%w: kind %d", ErrInvalidEvent, e.Kind)
	case !e.Modality.Valid():
		return fmt.Errorf("%w: input modality %d", ErrInvalidEvent, e.Modality)
	case !e.FieldKind.Valid():
		return fmt.Errorf("%w: field kind %d", ErrInvalidEvent, e.FieldKind)
	case e.Selection.Start > e.Selection.End:
		return fmt.Errorf("%w: selection start %d after end %d", ErrInvalidEvent, e.Selection.Start, e.Selection.End)
	}
	return nil
}

// Snapshot is the published view of the engine after a change.
type Snapshot struct {
	Primary     PrimaryState  `json:"primary"`
	Modality    InputModality `json:"input_modality"`
	FieldKind   FieldKind     `json:"field_kind"`
	Selection   Selection     `json:"selection"`
	IMEActive   bool          `json:"ime_active"`
	Blocked     bool          `json:"blocked"`
	Caret       uint32        `json:"caret"`
	TextLen     uint32        `json:"text_len"`
	DeviceTier  DeviceTier    `json:"device_tier"`
	TimestampMS uint64        `json:"timestamp_ms"`
}

// SameAs compares every observable field except the timestamp.
func (s Snapshot) SameAs(o Snapshot) bool {
	a, b := s, o
	a.TimestampMS, b.TimestampMS = 0, 0
	return a == b
}

// Thresholds tunes the classifier. Values are milliseconds unless named otherwise.
type Thresholds struct {
	ShortPauseMS       uint64 `json:"short_pause_ms" yaml:"short_pause_ms"`
	LongPauseMS        uint64 `json:"long_pause_ms" yaml:"long_pause_ms"`
	DecayMS            uint64 `json:"decay_ms" yaml:"decay_ms"`
	JumpThresholdChars uint32 `json:"jump_threshold_chars" yaml:"jump_threshold_chars"`
	DeleteBurstWindow  uint64 `json:"delete_burst_window_ms" yaml:"delete_burst_window_ms"`
	DeleteBurstMin     uint32 `json:"delete_burst_min" yaml:"delete_burst_min"`
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShortPauseMS:       DefaultShortPauseMS,
		LongPauseMS:        DefaultLongPauseMS,
		DecayMS:            DefaultDecayMS,
		JumpThresholdChars: DefaultJumpThresholdChars,
		DeleteBurstWindow:  DefaultDeleteBurstWindow,
		DeleteBurstMin:     DefaultDeleteBurstMin,
	}
}

// Validate rejects tunings under which the cadence ladder or detectors are meaningless.
func (t Thresholds) Validate() error {
	switch {
	case t.ShortPauseMS == 0:
		return fmt.Errorf("%w: short pause must be positive", ErrInvalidThresholds)
	case t.LongPauseMS <= t.ShortPauseMS:
		return fmt.Errorf("%w: long pause %dms must exceed short pause %dms", ErrInvalidThresholds, t.LongPauseMS, t.ShortPauseMS)
	case t.JumpThresholdChars == 0:
		return fmt.Errorf("%w: jump threshold must be positive", ErrInvalidThresholds)
	case t.DeleteBurstMin == 0:
		return fmt.Errorf("%w: delete burst minimum must be positive", ErrInvalidThresholds)
	}
	return nil
}

// Stats are cumulative counters and smoothed typing gauges. They are never reset.
type Stats struct {
	EventsProcessed   uint64 `json:"events_processed"`
	SnapshotsEmitted  uint64 `json:"snapshots_emitted"`
	DeletesSeen       uint64 `json:"deletes_seen"`
	DeleteBursts      uint64 `json:"delete_bursts"`
	Pastes            uint64 `json:"pastes"`
	Cuts              uint64 `json:"cuts"`
	UndosRedos        uint64 `json:"undos_redos"`
	Drops             uint64 `json:"drops"`
	Autocorrects      uint64 `json:"autocorrects"`
	CaretJumps        uint64 `json:"caret_jumps"`
	ClampedTimestamps uint64 `json:"clamped_timestamps"`

	Keystrokes      uint64  `json:"keystrokes"`
	AvgInterKeyMS   float64 `json:"avg_inter_key_ms"`
	EPSSmoothed     float64 `json:"eps_smoothed"`
	WPMSmoothed     float64 `json:"wpm_smoothed"`
	BurstLenCurrent uint32  `json:"burst_len_current"`
	BurstLenMax     uint32  `json:"burst_len_max"`
}

// Policy enables the optional states that the default ladder never produces.
type Policy struct {
	// ClassifyCut reports CUT instead of PASTED while a cut-opened decay window is live.
	ClassifyCut bool `json:"classify_cut" yaml:"classify_cut"`
	// ClassifyUndoRedo reports UNDO_REDO for the undo or redo event itself.
	ClassifyUndoRedo bool `json:"classify_undo_redo" yaml:"classify_undo_redo"`
	// ClassifyDrop reports DROP for the drop event itself.
	ClassifyDrop bool `json:"classify_drop" yaml:"classify_drop"`
	// ClassifyAutocorrect reports AUTOCORRECT for the replacement event itself.
	ClassifyAutocorrect bool `json:"classify_autocorrect" yaml:"classify_autocorrect"`
}
