// Package caret implements the caret/typing state engine: a synchronous,
// single-owner state machine that classifies text-input events into a
// primary user-activity state and publishes deduplicated snapshots into a
// bounded history.
package caret

import (
	"fmt"
)

// PrimaryState is the single authoritative classification of what the
// user is doing in the field.
type PrimaryState uint8

// Primary states.
const (
	StateBlur PrimaryState = iota
	StateActiveIdle
	StateTyping
	StatePasted
	StateShortPause
	StateLongPause
	StateCut
	StateDeleteBurst
	StateSelectionActive
	StateCaretJump
	StateImeComposing
	StateBlocked
	StateUndoRedo
	StateDrop
	StateAutocorrect
)

var primaryStateNames = []string{
	"BLUR",
	"ACTIVE_IDLE",
	"TYPING",
	"PASTED",
	"SHORT_PAUSE",
	"LONG_PAUSE",
	"CUT",
	"DELETE_BURST",
	"SELECTION_ACTIVE",
	"CARET_JUMP",
	"IME_COMPOSING",
	"BLOCKED",
	"UNDO_REDO",
	"DROP",
	"AUTOCORRECT",
}

// EventKind identifies the kind of a normalized input event.
type EventKind uint8

// Event kinds.
const (
	KindFocusIn EventKind = iota
	KindFocusOut
	KindSelectionChange
	KindKeyDown
	KindBeforeInput
	KindInput
	KindCompositionStart
	KindCompositionUpdate
	KindCompositionEnd
	KindPaste
	KindCut
	KindDrop
	KindPointerDown
	KindVisibilityHidden
	KindVisibilityVisible
	KindProgrammaticChange
	KindUndo
	KindRedo
	KindAutocorrect
)

var eventKindNames = []string{
	"FOCUS_IN",
	"FOCUS_OUT",
	"SELECTION_CHANGE",
	"KEY_DOWN",
	"BEFORE_INPUT",
	"INPUT",
	"COMPOSITION_START",
	"COMPOSITION_UPDATE",
	"COMPOSITION_END",
	"PASTE",
	"CUT",
	"DROP",
	"POINTER_DOWN",
	"VISIBILITY_HIDDEN",
	"VISIBILITY_VISIBLE",
	"PROGRAMMATIC_CHANGE",
	"UNDO",
	"REDO",
	"AUTOCORRECT",
}

// InputModality is the origin of the text change. The zero value is
// ModalityUnknown.
type InputModality uint8

// Input modalities.
const (
	ModalityUnknown InputModality = iota
	ModalityKeyboard
	ModalityOSK
	ModalityIME
	ModalityPaste
	ModalityDrop
	ModalityProgrammatic
)

var modalityNames = []string{
	"UNKNOWN",
	"KEYBOARD",
	"OSK",
	"IME",
	"PASTE",
	"DROP",
	"PROGRAMMATIC",
}

// FieldKind is the kind of field being edited. The zero value is FieldOther.
type FieldKind uint8

// Field kinds.
const (
	FieldOther FieldKind = iota
	FieldInputText
	FieldTextArea
	FieldContentEditable
	FieldPassword
)

var fieldKindNames = []string{
	"OTHER",
	"INPUT_TEXT",
	"TEXT_AREA",
	"CONTENT_EDITABLE",
	"PASSWORD",
}

// DeviceTier is the compute tier the engine reports in its snapshots.
type DeviceTier uint8

// Device tiers.
const (
	TierWebGPU DeviceTier = iota
	TierWasm
	TierCPU
	TierNative
)

var deviceTierNames = []string{
	"WEB_GPU",
	"WASM",
	"CPU",
	"NATIVE",
}

func enumName[T ~uint8](names []string, kind string, v T) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", kind, uint8(v))
}

func parseEnum[T ~uint8](names []string, kind, s string) (T, error) {
	for i, n := range names {
		if n == s {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("%w %s: %q", ErrUnknownName, kind, s)
}

func (s PrimaryState) String() string { return enumName(primaryStateNames, "PrimaryState", s) }

// Valid reports whether s is a known state.
func (s PrimaryState) Valid() bool { return int(s) < len(primaryStateNames) }

// MarshalText implements encoding.TextMarshaler.
func (s PrimaryState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w PrimaryState: %d", ErrUnknownName, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PrimaryState) UnmarshalText(b []byte) error {
	v, err := parseEnum[PrimaryState](primaryStateNames, "PrimaryState", string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParsePrimaryState parses a SCREAMING_SNAKE_CASE state name.
func ParsePrimaryState(s string) (PrimaryState, error) {
	return parseEnum[PrimaryState](primaryStateNames, "PrimaryState", s)
}

func (k EventKind) String() string { return enumName(eventKindNames, "EventKind", k) }

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool { return int(k) < len(eventKindNames) }

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w EventKind: %d", ErrUnknownName, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	v, err := parseEnum[EventKind](eventKindNames, "EventKind", string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseEventKind parses a SCREAMING_SNAKE_CASE event kind.
func ParseEventKind(s string) (EventKind, error) {
	return parseEnum[EventKind](eventKindNames, "EventKind", s)
}

// EventKinds returns every event kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, len(eventKindNames))
	for i := range out {
		out[i] = EventKind(i)
	}
	return out
}

func (m InputModality) String() string { return enumName(modalityNames, "InputModality", m) }

// Valid reports whether m is a known modality.
func (m InputModality) Valid() bool { return int(m) < len(modalityNames) }

// MarshalText implements encoding.TextMarshaler.
func (m InputModality) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w InputModality: %d", ErrUnknownName, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *InputModality) UnmarshalText(b []byte) error {
	v, err := parseEnum[InputModality](modalityNames, "InputModality", string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (f FieldKind) String() string { return enumName(fieldKindNames, "FieldKind", f) }

// Valid reports whether f is a known field kind.
func (f FieldKind) Valid() bool { return int(f) < len(fieldKindNames) }

// MarshalText implements encoding.TextMarshaler.
func (f FieldKind) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w FieldKind: %d", ErrUnknownName, uint8(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FieldKind) UnmarshalText(b []byte) error {
	v, err := parseEnum[FieldKind](fieldKindNames, "FieldKind", string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFieldKind parses a SCREAMING_SNAKE_CASE field kind name.
func ParseFieldKind(s string) (FieldKind, error) {
	return parseEnum[FieldKind](fieldKindNames, "FieldKind", s)
}

func (t DeviceTier) String() string { return enumName(deviceTierNames, "DeviceTier", t) }

// Valid reports whether t is a known tier.
func (t DeviceTier) Valid() bool { return int(t) < len(deviceTierNames) }

// MarshalText implements encoding.TextMarshaler.
func (t DeviceTier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w DeviceTier: %d", ErrUnknownName, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DeviceTier) UnmarshalText(b []byte) error {
	v, err := ParseDeviceTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseDeviceTier parses a SCREAMING_SNAKE_CASE tier name.
func ParseDeviceTier(s string) (DeviceTier, error) {
	return parseEnum[DeviceTier](deviceTierNames, "DeviceTier", s)
}
