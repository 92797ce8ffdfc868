package gate_test

import (
	"testing"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/domain/gate"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPolicyGate(t *testing.T) {
	Convey("Given the default gate", t, func() {
		g := gate.New()

		Convey("Then pauses allow corrections", func() {
			d := g.Decide(caret.Snapshot{Primary: caret.StateShortPause, FieldKind: caret.FieldTextArea}, 0)
			So(d.Allowed, ShouldBeTrue)
			So(d.Reason, ShouldEqual, gate.ReasonPaused)

			d = g.Decide(caret.Snapshot{Primary: caret.StateLongPause}, 0)
			So(d.Allowed, ShouldBeTrue)
		})

		Convey("Then active states refuse with a reason", func() {
			cases := map[caret.PrimaryState]string{
				caret.StateTyping:          gate.ReasonUserActive,
				caret.StateImeComposing:    gate.ReasonComposing,
				caret.StatePasted:          gate.ReasonClipboard,
				caret.StateUndoRedo:        gate.ReasonHistory,
				caret.StateBlocked:         gate.ReasonHostBlocked,
				caret.StateSelectionActive: gate.ReasonSelection,
				caret.StateBlur:            gate.ReasonUnfocused,
				caret.StateActiveIdle:      gate.ReasonIdleDisabled,
			}
			for st, reason := range cases {
				d := g.Decide(caret.Snapshot{Primary: st}, 0)
				So(d.Allowed, ShouldBeFalse)
				So(d.Reason, ShouldEqual, reason)
				So(d.State, ShouldEqual, st)
			}
		})

		Convey("Then password fields are never corrected", func() {
			d := g.Decide(caret.Snapshot{Primary: caret.StateLongPause, FieldKind: caret.FieldPassword}, 0)
			So(d.Allowed, ShouldBeFalse)
			So(d.Reason, ShouldEqual, gate.ReasonPassword)
		})
	})

	Convey("Given a gate with idle and settle options", t, func() {
		g := gate.New(gate.WithActiveIdle(true), gate.WithSettleMS(100))

		Convey("Then a fresh snapshot is still settling", func() {
			d := g.Decide(caret.Snapshot{Primary: caret.StateActiveIdle, TimestampMS: 1000}, 1050)
			So(d.Allowed, ShouldBeFalse)
			So(d.Reason, ShouldEqual, gate.ReasonSettling)
		})

		Convey("Then a settled snapshot is allowed", func() {
			d := g.Decide(caret.Snapshot{Primary: caret.StateActiveIdle, TimestampMS: 1000}, 1100)
			So(d.Allowed, ShouldBeTrue)
			So(d.Reason, ShouldEqual, gate.ReasonIdle)
		})
	})
}
