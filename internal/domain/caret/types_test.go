package caret_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/caretd/internal/domain/caret"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWireNames(t *testing.T) {
	Convey("Given a snapshot", t, func() {
		s := caret.Snapshot{
			Primary:    caret.StateImeComposing,
			Modality:   caret.ModalityOSK,
			FieldKind:  caret.FieldContentEditable,
			DeviceTier: caret.TierWebGPU,
		}

		Convey("Then enums encode as SCREAMING_SNAKE_CASE names", func() {
			b, err := json.Marshal(s)
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, `"primary":"IME_COMPOSING"`)
			So(string(b), ShouldContainSubstring, `"input_modality":"OSK"`)
			So(string(b), ShouldContainSubstring, `"field_kind":"CONTENT_EDITABLE"`)
			So(string(b), ShouldContainSubstring, `"device_tier":"WEB_GPU"`)
		})
	})

	Convey("Given an event document with omitted optional fields", t, func() {
		doc := `{"kind":"KEY_DOWN","timestamp_ms":12,"caret":3,"text_len":3}`
		var ev caret.Event
		err := json.Unmarshal([]byte(doc), &ev)

		Convey("Then the defaults apply", func() {
			So(err, ShouldBeNil)
			So(ev.Kind, ShouldEqual, caret.KindKeyDown)
			So(ev.Modality, ShouldEqual, caret.ModalityUnknown)
			So(ev.FieldKind, ShouldEqual, caret.FieldOther)
			So(ev.InputType, ShouldEqual, "")
		})
	})

	Convey("Given an unknown kind name", t, func() {
		var ev caret.Event
		err := json.Unmarshal([]byte(`{"kind":"SHOUT"}`), &ev)
		So(err, ShouldNotBeNil)
		So(errors.Is(err, caret.ErrUnknownName), ShouldBeTrue)
	})

	Convey("Given out-of-range enum values", t, func() {
		So(caret.PrimaryState(99).String(), ShouldEqual, "PrimaryState(99)")
		_, err := caret.PrimaryState(99).MarshalText()
		So(err, ShouldNotBeNil)

		ev := caret.Event{Kind: caret.EventKind(77)}
		So(errors.Is(ev.Validate(), caret.ErrInvalidEvent), ShouldBeTrue)
	})

	Convey("Every event kind parses back from its name", t, func() {
		for _, k := range caret.EventKinds() {
			got, err := caret.ParseEventKind(k.String())
			So(err, ShouldBeNil)
			So(got, ShouldEqual, k)
		}
	})
}

func TestThresholdsValidate(t *testing.T) {
	Convey("Given threshold sets", t, func() {
		So(caret.DefaultThresholds().Validate(), ShouldBeNil)

		th := caret.DefaultThresholds()
		th.LongPauseMS = th.ShortPauseMS
		So(errors.Is(th.Validate(), caret.ErrInvalidThresholds), ShouldBeTrue)

		th = caret.DefaultThresholds()
		th.DeleteBurstMin = 0
		So(errors.Is(th.Validate(), caret.ErrInvalidThresholds), ShouldBeTrue)
	})

	Convey("Given a reversed selection", t, func() {
		ev := caret.Event{Selection: caret.Selection{Start: 5, End: 2}}
		So(errors.Is(ev.Validate(), caret.ErrInvalidEvent), ShouldBeTrue)
	})
}

func TestRegionWatcher(t *testing.T) {
	Convey("Given a watcher with region [10, 20]", t, func() {
		var w caret.RegionWatcher
		w.Set(caret.Region{Start: 10, End: 20})

		Convey("Then entering from outside signals once", func() {
			So(w.Observe(5), ShouldBeFalse)
			So(w.Observe(12), ShouldBeTrue)
			So(w.Observe(13), ShouldBeFalse)
			So(w.Observe(30), ShouldBeFalse)
			So(w.Observe(20), ShouldBeTrue)
		})

		Convey("Then an unmoved caret does not signal", func() {
			So(w.Observe(15), ShouldBeTrue)
			w.Set(caret.Region{Start: 10, End: 20})
			So(w.Observe(15), ShouldBeFalse)
		})

		Convey("Then a cleared region never signals", func() {
			w.Clear()
			So(w.Observe(15), ShouldBeFalse)
			_, ok := w.Region()
			So(ok, ShouldBeFalse)
		})
	})
}
