package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/okian/caretd/internal/domain/caret"
)

// Record sizes in bytes. Fields are little-endian at fixed offsets.
const (
	EventRecordSize    = 40
	SnapshotRecordSize = 48
)

// Flag bits shared by both record kinds.
const (
	FlagCollapsed uint32 = 1 << iota
	FlagIMEActive
	FlagBlocked

	knownFlags = FlagCollapsed | FlagIMEActive | FlagBlocked
)

// EventRecord is the fixed-layout form of caret.Event. Enum fields carry
// the engine's numeric codes. The input-type hint has no binary form.
//
//	off size field
//	  0    4 kind
//	  4    4 flags
//	  8    8 timestamp_ms
//	 16    4 caret
//	 20    4 text_len
//	 24    4 selection start
//	 28    4 selection end
//	 32    4 input modality
//	 36    4 field kind
type EventRecord struct {
	Kind        uint32
	Flags       uint32
	TimestampMS uint64
	Caret       uint32
	TextLen     uint32
	SelStart    uint32
	SelEnd      uint32
	Modality    uint32
	FieldKind   uint32
}

// EventRecordOf encodes ev.
func EventRecordOf(ev caret.Event) EventRecord {
	return EventRecord{
		Kind:        uint32(ev.Kind),
		Flags:       flags(ev.Selection.Collapsed, ev.IMEActive, ev.Blocked),
		TimestampMS: ev.TimestampMS,
		Caret:       ev.Caret,
		TextLen:     ev.TextLen,
		SelStart:    ev.Selection.Start,
		SelEnd:      ev.Selection.End,
		Modality:    uint32(ev.Modality),
		FieldKind:   uint32(ev.FieldKind),
	}
}

// Event decodes r, rejecting unknown codes and flag bits.
func (r EventRecord) Event() (caret.Event, error) {
	if r.Flags&^knownFlags != 0 {
		return caret.Event{}, fmt.Errorf("%w: %#x", ErrUnknownFlags, r.Flags)
	}
	kind, err := code[caret.EventKind](r.Kind, "kind")
	if err != nil {
		return caret.Event{}, err
	}
	mod, err := code[caret.InputModality](r.Modality, "input_modality")
	if err != nil {
		return caret.Event{}, err
	}
	fk, err := code[caret.FieldKind](r.FieldKind, "field_kind")
	if err != nil {
		return caret.Event{}, err
	}
	ev := caret.Event{
		Kind:        kind,
		TimestampMS: r.TimestampMS,
		Caret:       r.Caret,
		TextLen:     r.TextLen,
		Selection: caret.Selection{
			Collapsed: r.Flags&FlagCollapsed != 0,
			Start:     r.SelStart,
			End:       r.SelEnd,
		},
		Modality:  mod,
		FieldKind: fk,
		IMEActive: r.Flags&FlagIMEActive != 0,
		Blocked:   r.Flags&FlagBlocked != 0,
	}
	if err := ev.Validate(); err != nil {
		return caret.Event{}, err
	}
	return ev, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r EventRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, EventRecordSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], r.Kind)
	le.PutUint32(b[4:], r.Flags)
	le.PutUint64(b[8:], r.TimestampMS)
	le.PutUint32(b[16:], r.Caret)
	le.PutUint32(b[20:], r.TextLen)
	le.PutUint32(b[24:], r.SelStart)
	le.PutUint32(b[28:], r.SelEnd)
	le.PutUint32(b[32:], r.Modality)
	le.PutUint32(b[36:], r.FieldKind)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *EventRecord) UnmarshalBinary(b []byte) error {
	if len(b) != EventRecordSize {
		return fmt.Errorf("%w: event record is %d bytes, want %d", ErrBadRecord, len(b), EventRecordSize)
	}
	le := binary.LittleEndian
	*r = EventRecord{
		Kind:        le.Uint32(b[0:]),
		Flags:       le.Uint32(b[4:]),
		TimestampMS: le.Uint64(b[8:]),
		Caret:       le.Uint32(b[16:]),
		TextLen:     le.Uint32(b[20:]),
		SelStart:    le.Uint32(b[24:]),
		SelEnd:      le.Uint32(b[28:]),
		Modality:    le.Uint32(b[32:]),
		FieldKind:   le.Uint32(b[36:]),
	}
	return nil
}

// SnapshotRecord is the fixed-layout form of caret.Snapshot.
//
//	off size field
//	  0    4 primary
//	  4    4 flags
//	  8    8 timestamp_ms
//	 16    4 caret
//	 20    4 text_len
//	 24    4 selection start
//	 28    4 selection end
//	 32    4 input modality
//	 36    4 field kind
//	 40    4 device tier
//	 44    4 reserved, zero
type SnapshotRecord struct {
	Primary     uint32
	Flags       uint32
	TimestampMS uint64
	Caret       uint32
	TextLen     uint32
	SelStart    uint32
	SelEnd      uint32
	Modality    uint32
	FieldKind   uint32
	DeviceTier  uint32
}

// SnapshotRecordOf encodes s.
func SnapshotRecordOf(s caret.Snapshot) SnapshotRecord {
	return SnapshotRecord{
		Primary:     uint32(s.Primary),
		Flags:       flags(s.Selection.Collapsed, s.IMEActive, s.Blocked),
		TimestampMS: s.TimestampMS,
		Caret:       s.Caret,
		TextLen:     s.TextLen,
		SelStart:    s.Selection.Start,
		SelEnd:      s.Selection.End,
		Modality:    uint32(s.Modality),
		FieldKind:   uint32(s.FieldKind),
		DeviceTier:  uint32(s.DeviceTier),
	}
}

// Snapshot decodes r.
func (r SnapshotRecord) Snapshot() (caret.Snapshot, error) {
	if r.Flags&^knownFlags != 0 {
		return caret.Snapshot{}, fmt.Errorf("%w: %#x", ErrUnknownFlags, r.Flags)
	}
	p, err := code[caret.PrimaryState](r.Primary, "primary")
	if err != nil {
		return caret.Snapshot{}, err
	}
	mod, err := code[caret.InputModality](r.Modality, "input_modality")
	if err != nil {
		return caret.Snapshot{}, err
	}
	fk, err := code[caret.FieldKind](r.FieldKind, "field_kind")
	if err != nil {
		return caret.Snapshot{}, err
	}
	tier, err := code[caret.DeviceTier](r.DeviceTier, "device_tier")
	if err != nil {
		return caret.Snapshot{}, err
	}
	return caret.Snapshot{
		Primary:   p,
		Modality:  mod,
		FieldKind: fk,
		Selection: caret.Selection{
			Collapsed: r.Flags&FlagCollapsed != 0,
			Start:     r.SelStart,
			End:       r.SelEnd,
		},
		IMEActive:   r.Flags&FlagIMEActive != 0,
		Blocked:     r.Flags&FlagBlocked != 0,
		Caret:       r.Caret,
		TextLen:     r.TextLen,
		DeviceTier:  tier,
		TimestampMS: r.TimestampMS,
	}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r SnapshotRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, SnapshotRecordSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], r.Primary)
	le.PutUint32(b[4:], r.Flags)
	le.PutUint64(b[8:], r.TimestampMS)
	le.PutUint32(b[16:], r.Caret)
	le.PutUint32(b[20:], r.TextLen)
	le.PutUint32(b[24:], r.SelStart)
	le.PutUint32(b[28:], r.SelEnd)
	le.PutUint32(b[32:], r.Modality)
	le.PutUint32(b[36:], r.FieldKind)
	le.PutUint32(b[40:], r.DeviceTier)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *SnapshotRecord) UnmarshalBinary(b []byte) error {
	if len(b) != SnapshotRecordSize {
		return fmt.Errorf("%w: snapshot record is %d bytes, want %d", ErrBadRecord, len(b), SnapshotRecordSize)
	}
	le := binary.LittleEndian
	if le.Uint32(b[44:]) != 0 {
		return fmt.Errorf("%w: reserved bytes set", ErrBadRecord)
	}
	*r = SnapshotRecord{
		Primary:     le.Uint32(b[0:]),
		Flags:       le.Uint32(b[4:]),
		TimestampMS: le.Uint64(b[8:]),
		Caret:       le.Uint32(b[16:]),
		TextLen:     le.Uint32(b[20:]),
		SelStart:    le.Uint32(b[24:]),
		SelEnd:      le.Uint32(b[28:]),
		Modality:    le.Uint32(b[32:]),
		FieldKind:   le.Uint32(b[36:]),
		DeviceTier:  le.Uint32(b[40:]),
	}
	return nil
}

func flags(collapsed, ime, blocked bool) uint32 {
	var f uint32
	if collapsed {
		f |= FlagCollapsed
	}
	if ime {
		f |= FlagIMEActive
	}
	if blocked {
		f |= FlagBlocked
	}
	return f
}

type validEnum interface {
	~uint8
	Valid() bool
}

func code[T validEnum](v uint32, field string) (T, error) {
	if v > 0xff || !T(v).Valid() {
		return 0, fmt.Errorf("%w: %s %d", ErrUnknownCode, field, v)
	}
	return T(v), nil
}
