package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/metrics"
)

func keyRecord(ts uint64, pos uint32) EventRecord {
	return EventRecordOf(caret.Event{
		Kind:        caret.KindKeyDown,
		TimestampMS: ts,
		Caret:       pos,
		TextLen:     pos,
		Selection:   caret.Selection{Collapsed: true, Start: pos, End: pos},
		Modality:    caret.ModalityKeyboard,
		FieldKind:   caret.FieldTextArea,
	})
}

func TestCreateFree(t *testing.T) {
	b := New()

	assert.Equal(t, Handle(0), b.Create(99))

	bad := caret.DefaultThresholds()
	bad.LongPauseMS = 1
	assert.Equal(t, Handle(0), b.CreateWithThresholds(uint32(caret.TierCPU), bad))

	h := b.Create(uint32(caret.TierNative))
	require.NotZero(t, h)
	assert.Equal(t, 1, b.Handles())

	st, ok := b.State(h)
	require.True(t, ok)
	assert.Equal(t, uint32(caret.StateBlur), st.Primary)
	assert.Equal(t, uint32(caret.TierNative), st.DeviceTier)

	assert.True(t, b.Free(h))
	assert.False(t, b.Free(h))
	assert.False(t, b.Update(h, keyRecord(1, 1)))
	_, ok = b.State(h)
	assert.False(t, ok)
}

func TestUpdateRecord(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierWasm))

	assert.True(t, b.Update(h, keyRecord(0, 1)))
	assert.False(t, b.Update(h, keyRecord(0, 1)), "identical snapshot is not re-emitted")

	raw, err := keyRecord(50, 2).MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, EventRecordSize)
	assert.True(t, b.UpdateBinary(h, raw))
	assert.False(t, b.UpdateBinary(h, raw[:10]))

	st, _ := b.State(h)
	snap, err := st.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, caret.StateTyping, snap.Primary)
	assert.Equal(t, uint32(2), snap.Caret)
	assert.True(t, snap.Selection.Collapsed)

	assert.Equal(t, uint32(1), b.Flush(h, 400))
	st, _ = b.State(h)
	assert.Equal(t, uint32(caret.StateShortPause), st.Primary)
}

func TestUpdateRejectsMalformedInput(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierWasm))

	rec := keyRecord(1, 1)
	rec.Kind = 200
	assert.False(t, b.Update(h, rec))

	rec = keyRecord(1, 1)
	rec.Flags |= 1 << 7
	assert.False(t, b.Update(h, rec))

	rec = keyRecord(1, 1)
	rec.SelStart, rec.SelEnd = 9, 3
	assert.False(t, b.Update(h, rec))

	assert.False(t, b.UpdateJSON(h, []byte{0xff, 0xfe}))
	assert.False(t, b.UpdateJSON(h, []byte(`{"kind":"KEY_DOWN"}`)))
	assert.False(t, b.UpdateJSON(h, []byte(`{"kind":"SHOUT","timestamp_ms":1}`)))
	assert.False(t, b.UpdateJSON(h, []byte(`{"kind":"KEY_DOWN","timestamp_ms":1,"extra":true}`)))
	assert.False(t, b.UpdateJSON(h, []byte(`{"kind":"KEY_DOWN","timestamp_ms":-1}`)))

	st, ok := b.Stats(h)
	require.True(t, ok)
	assert.Zero(t, st.EventsProcessed)
	state, _ := b.State(h)
	assert.Equal(t, uint32(caret.StateBlur), state.Primary)
}

func TestUpdateJSON(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierWasm))

	ok := b.UpdateJSON(h, []byte(`{
		"kind": "PASTE",
		"timestamp_ms": 10,
		"caret": 12,
		"text_len": 12,
		"selection": {"collapsed": true, "start": 12, "end": 12},
		"input_modality": "PASTE",
		"field_kind": "INPUT_TEXT"
	}`))
	assert.True(t, ok)

	st, _ := b.State(h)
	assert.Equal(t, uint32(caret.StatePasted), st.Primary)
	assert.Equal(t, uint32(caret.FieldInputText), st.FieldKind)
}

func TestCopySnapshots(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierWasm))
	b.Update(h, keyRecord(0, 1))
	b.Flush(h, 400)
	b.Flush(h, 2100)

	dst := make([]SnapshotRecord, 2)
	require.Equal(t, uint32(2), b.CopySnapshots(h, dst))
	assert.Equal(t, uint32(caret.StateTyping), dst[0].Primary)
	assert.Equal(t, uint32(caret.StateShortPause), dst[1].Primary)

	require.Equal(t, uint32(1), b.CopySnapshots(h, dst))
	assert.Equal(t, uint32(caret.StateLongPause), dst[0].Primary)

	assert.Equal(t, uint32(0), b.CopySnapshots(h, dst))
	assert.Equal(t, uint32(0), b.CopySnapshots(h, nil))
}

func TestDrainJSONAndBuffers(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierCPU))
	b.Update(h, keyRecord(0, 1))
	b.Flush(h, 2100)

	id, data, ok := b.DrainJSON(h)
	require.True(t, ok)
	require.NotZero(t, id)

	var snaps []caret.Snapshot
	require.NoError(t, json.Unmarshal(data, &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, caret.StateLongPause, snaps[1].Primary)
	assert.Equal(t, caret.TierCPU, snaps[1].DeviceTier)

	id2, data2, ok := b.DrainJSON(h)
	require.True(t, ok)
	assert.JSONEq(t, `[]`, string(data2))

	assert.Equal(t, 2, b.Buffers())
	assert.True(t, b.ReleaseBuffer(id))
	assert.False(t, b.ReleaseBuffer(id))
	assert.True(t, b.ReleaseBuffer(id2))
	assert.False(t, b.ReleaseBuffer(0))
	assert.Zero(t, b.Buffers())

	_, _, ok = b.DrainJSON(Handle(42))
	assert.False(t, ok)

	vid, v := b.VersionBuffer()
	assert.Equal(t, Version, string(v))
	assert.True(t, b.ReleaseBuffer(vid))
}

func TestSettings(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierWasm))

	assert.False(t, b.SetDeviceTier(h, 17))
	assert.True(t, b.SetDeviceTier(h, uint32(caret.TierWebGPU)))
	tier, ok := b.DeviceTier(h)
	require.True(t, ok)
	assert.Equal(t, uint32(caret.TierWebGPU), tier)

	assert.True(t, b.SetThresholdsJSON(h, []byte(`{
		"short_pause_ms": 100, "long_pause_ms": 900, "decay_ms": 50,
		"jump_threshold_chars": 10, "delete_burst_window_ms": 80, "delete_burst_min": 2
	}`)))
	th, _ := b.Thresholds(h)
	assert.Equal(t, uint64(100), th.ShortPauseMS)
	assert.Equal(t, uint32(2), th.DeleteBurstMin)

	assert.False(t, b.SetThresholdsJSON(h, []byte(`{"short_pause_ms": 100}`)))
	assert.False(t, b.SetThresholdsJSON(h, []byte(`{
		"short_pause_ms": 100, "long_pause_ms": 90, "decay_ms": 50,
		"jump_threshold_chars": 10, "delete_burst_window_ms": 80, "delete_burst_min": 2
	}`)))
	th, _ = b.Thresholds(h)
	assert.Equal(t, uint64(900), th.LongPauseMS)
}

func TestPolicyOption(t *testing.T) {
	b := New(WithPolicy(caret.Policy{ClassifyUndoRedo: true}))
	h := b.Create(uint32(caret.TierWasm))
	require.True(t, b.UpdateJSON(h, []byte(`{"kind":"UNDO","timestamp_ms":5}`)))
	st, _ := b.State(h)
	assert.Equal(t, uint32(caret.StateUndoRedo), st.Primary)
}

func appliedEvents(t *testing.T, kind string) float64 {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "caretd_engine_events_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestUpdateCountsEveryAppliedEvent(t *testing.T) {
	b := New()
	h := b.Create(uint32(caret.TierCPU))
	require.NotZero(t, h)

	before := appliedEvents(t, "KEY_DOWN")
	require.True(t, b.Update(h, keyRecord(0, 1)))
	// same caret and state: applied, but no new snapshot
	require.False(t, b.Update(h, keyRecord(10, 1)))
	assert.InDelta(t, before+2, appliedEvents(t, "KEY_DOWN"), 0)

	require.True(t, b.Free(h))
	require.False(t, b.Update(h, keyRecord(20, 2)))
	assert.InDelta(t, before+2, appliedEvents(t, "KEY_DOWN"), 0)
}
