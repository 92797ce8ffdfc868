package caret_test

import (
	"testing"

	"github.com/okian/caretd/internal/domain/caret"
	. "github.com/smartystreets/goconvey/convey"
)

func keyAt(ts uint64, caretPos uint32) caret.Event {
	return caret.Event{
		Kind:        caret.KindInput,
		TimestampMS: ts,
		Caret:       caretPos,
		TextLen:     caretPos,
		Selection:   caret.Selection{Collapsed: true, Start: caretPos, End: caretPos},
		Modality:    caret.ModalityKeyboard,
		FieldKind:   caret.FieldTextArea,
	}
}

func deleteAt(ts uint64, caretPos uint32) caret.Event {
	ev := keyAt(ts, caretPos)
	ev.InputType = "deleteContentBackward"
	return ev
}

func TestEngineInitialState(t *testing.T) {
	Convey("Given a new engine", t, func() {
		e := caret.New()

		Convey("Then it reports BLUR with zeroed fields", func() {
			s := e.State()
			So(s.Primary, ShouldEqual, caret.StateBlur)
			So(s.Caret, ShouldEqual, 0)
			So(s.TextLen, ShouldEqual, 0)
			So(s.TimestampMS, ShouldEqual, 0)
			So(s.Modality, ShouldEqual, caret.ModalityUnknown)
			So(s.FieldKind, ShouldEqual, caret.FieldOther)
			So(s.DeviceTier, ShouldEqual, caret.TierWasm)
		})

		Convey("Then the defaults are the stock thresholds", func() {
			So(e.Thresholds(), ShouldResemble, caret.DefaultThresholds())
			So(e.Thresholds().ShortPauseMS, ShouldEqual, 300)
			So(e.Thresholds().LongPauseMS, ShouldEqual, 2000)
			So(e.Thresholds().DecayMS, ShouldEqual, 500)
			So(e.Thresholds().JumpThresholdChars, ShouldEqual, 6)
			So(e.Thresholds().DeleteBurstWindow, ShouldEqual, 250)
			So(e.Thresholds().DeleteBurstMin, ShouldEqual, 3)
		})

		Convey("Then the history is empty", func() {
			So(e.DrainSnapshots(), ShouldBeEmpty)
			So(e.Stats(), ShouldResemble, caret.Stats{})
		})
	})

	Convey("Given an engine constructed with options", t, func() {
		th := caret.DefaultThresholds()
		th.JumpThresholdChars = 2
		e := caret.New(caret.WithThresholds(th), caret.WithDeviceTier(caret.TierNative))

		So(e.Thresholds().JumpThresholdChars, ShouldEqual, 2)
		So(e.DeviceTier(), ShouldEqual, caret.TierNative)
		So(e.State().DeviceTier, ShouldEqual, caret.TierNative)
	})
}

func TestEngineDedup(t *testing.T) {
	Convey("Given an engine that has seen one event", t, func() {
		e := caret.New()
		So(e.Update(keyAt(0, 1)), ShouldBeTrue)

		Convey("When an event yielding the same snapshot arrives later", func() {
			changed := e.Update(keyAt(50, 1))

			Convey("Then nothing is emitted", func() {
				So(changed, ShouldBeFalse)
				So(e.Pending(), ShouldEqual, 1)
				So(e.Stats().SnapshotsEmitted, ShouldEqual, 1)
				So(e.Stats().EventsProcessed, ShouldEqual, 2)
			})
		})
	})
}

func TestEngineCadence(t *testing.T) {
	Convey("Given typing at t=0", t, func() {
		e := caret.New()
		e.Update(keyAt(0, 1))
		So(e.State().Primary, ShouldEqual, caret.StateTyping)

		Convey("When flushing before the short pause", func() {
			n := e.Flush(100)

			Convey("Then the held state settles to ACTIVE_IDLE", func() {
				So(n, ShouldEqual, 1)
				So(e.State().Primary, ShouldEqual, caret.StateActiveIdle)
				So(e.Flush(150), ShouldEqual, 0)
			})
		})

		Convey("When flushing past the short pause", func() {
			n := e.Flush(350)

			Convey("Then the state becomes SHORT_PAUSE stamped with the flush time", func() {
				So(n, ShouldEqual, 1)
				So(e.State().Primary, ShouldEqual, caret.StateShortPause)
				So(e.State().TimestampMS, ShouldEqual, 350)
			})

			Convey("And flushing past the long pause", func() {
				So(e.Flush(2050), ShouldEqual, 1)
				So(e.State().Primary, ShouldEqual, caret.StateLongPause)

				Convey("Then LONG_PAUSE is sticky across flushes", func() {
					So(e.Flush(5000), ShouldEqual, 0)
					So(e.State().Primary, ShouldEqual, caret.StateLongPause)
				})
			})
		})

		Convey("When typing resumes after a long pause", func() {
			e.Flush(2500)
			So(e.Update(keyAt(2600, 2)), ShouldBeTrue)
			So(e.State().Primary, ShouldEqual, caret.StateTyping)
		})
	})
}

func TestEnginePasteDecay(t *testing.T) {
	Convey("Given a paste at t=0", t, func() {
		e := caret.New()
		ev := keyAt(0, 10)
		ev.Kind = caret.KindPaste
		ev.Modality = caret.ModalityPaste
		e.Update(ev)

		So(e.State().Primary, ShouldEqual, caret.StatePasted)
		So(e.Stats().Pastes, ShouldEqual, 1)

		Convey("Then a flush inside the decay window keeps PASTED", func() {
			So(e.Flush(200), ShouldEqual, 0)
			So(e.State().Primary, ShouldEqual, caret.StatePasted)
		})

		Convey("Then a flush after the decay window leaves PASTED", func() {
			So(e.Flush(800), ShouldEqual, 1)
			So(e.State().Primary, ShouldNotEqual, caret.StatePasted)
		})

		Convey("Then typing inside the window does not count as a keystroke", func() {
			e.Update(keyAt(100, 11))
			So(e.State().Primary, ShouldEqual, caret.StatePasted)
			So(e.Stats().Keystrokes, ShouldEqual, 0)
		})
	})

	Convey("Given an insertFromPaste hint on an input event", t, func() {
		e := caret.New()
		ev := keyAt(0, 10)
		ev.InputType = "insertFromPaste"
		e.Update(ev)
		So(e.State().Primary, ShouldEqual, caret.StatePasted)
		So(e.Stats().Pastes, ShouldEqual, 1)
	})

	Convey("Given a cut", t, func() {
		ev := keyAt(0, 10)
		ev.Kind = caret.KindCut

		Convey("Then the default policy reports PASTED", func() {
			e := caret.New()
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StatePasted)
			So(e.Stats().Cuts, ShouldEqual, 1)
		})

		Convey("Then the cut policy reports CUT until the window closes", func() {
			e := caret.New(caret.WithPolicy(caret.Policy{ClassifyCut: true}))
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StateCut)
			So(e.Flush(200), ShouldEqual, 0)
			So(e.Flush(600), ShouldEqual, 1)
			So(e.State().Primary, ShouldNotEqual, caret.StateCut)
		})
	})
}

func TestEngineDeleteBurst(t *testing.T) {
	Convey("Given deletes at 0, 50 and 100ms", t, func() {
		e := caret.New()
		e.Update(deleteAt(0, 10))
		So(e.State().Primary, ShouldNotEqual, caret.StateDeleteBurst)
		e.Update(deleteAt(50, 9))
		So(e.State().Primary, ShouldNotEqual, caret.StateDeleteBurst)
		e.Update(deleteAt(100, 8))

		Convey("Then the third delete completes a burst", func() {
			So(e.State().Primary, ShouldEqual, caret.StateDeleteBurst)
			So(e.Stats().DeleteBursts, ShouldEqual, 1)
			So(e.Stats().DeletesSeen, ShouldEqual, 3)
		})

		Convey("Then a delete outside the window restarts the count", func() {
			e.Update(deleteAt(1000, 7))
			So(e.State().Primary, ShouldNotEqual, caret.StateDeleteBurst)
			So(e.Stats().DeleteBursts, ShouldEqual, 1)
		})
	})
}

func TestEngineCaretJump(t *testing.T) {
	Convey("Given a collapsed caret at 1", t, func() {
		e := caret.New()
		e.Update(keyAt(0, 1))

		Convey("When the caret moves to 100 without typing", func() {
			ev := keyAt(10, 100)
			ev.Kind = caret.KindSelectionChange
			e.Update(ev)

			Convey("Then CARET_JUMP is reported", func() {
				So(e.State().Primary, ShouldEqual, caret.StateCaretJump)
				So(e.Stats().CaretJumps, ShouldEqual, 1)
			})
		})

		Convey("When the caret moves less than the threshold", func() {
			ev := keyAt(10, 4)
			ev.Kind = caret.KindSelectionChange
			e.Update(ev)
			So(e.State().Primary, ShouldNotEqual, caret.StateCaretJump)
			So(e.Stats().CaretJumps, ShouldEqual, 0)
		})

		Convey("When a non-collapsed selection is made far away", func() {
			ev := keyAt(10, 100)
			ev.Kind = caret.KindSelectionChange
			ev.Selection = caret.Selection{Start: 90, End: 100}
			e.Update(ev)

			Convey("Then the selection wins and no jump is counted", func() {
				So(e.State().Primary, ShouldEqual, caret.StateSelectionActive)
				So(e.Stats().CaretJumps, ShouldEqual, 0)
			})
		})
	})

	Convey("Given the first event far from zero", t, func() {
		e := caret.New()
		ev := keyAt(0, 500)
		ev.Kind = caret.KindFocusIn
		e.Update(ev)
		So(e.Stats().CaretJumps, ShouldEqual, 0)
	})
}

func TestEnginePrecedence(t *testing.T) {
	Convey("Given an engine", t, func() {
		e := caret.New()

		Convey("Blocked beats everything", func() {
			ev := keyAt(0, 1)
			ev.Kind = caret.KindPaste
			ev.Blocked = true
			ev.IMEActive = true
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StateBlocked)
		})

		Convey("IME composition beats paste decay", func() {
			ev := keyAt(0, 1)
			ev.Kind = caret.KindPaste
			ev.IMEActive = true
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StateImeComposing)
		})

		Convey("Focus out without activity yields BLUR and flush keeps it", func() {
			e.Update(keyAt(0, 1))
			ev := keyAt(50, 1)
			ev.Kind = caret.KindFocusOut
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StateBlur)
			So(e.Flush(5000), ShouldEqual, 0)
			So(e.State().Primary, ShouldEqual, caret.StateBlur)
		})

		Convey("Focus in yields ACTIVE_IDLE", func() {
			ev := keyAt(0, 1)
			ev.Kind = caret.KindFocusIn
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StateActiveIdle)
		})

		Convey("A held selection survives a flush", func() {
			ev := keyAt(0, 5)
			ev.Kind = caret.KindSelectionChange
			ev.Selection = caret.Selection{Start: 0, End: 5}
			e.Update(ev)
			So(e.State().Primary, ShouldEqual, caret.StateSelectionActive)
			So(e.Flush(10000), ShouldEqual, 0)
		})
	})
}

func TestEnginePolicy(t *testing.T) {
	Convey("Given undo, drop and autocorrect events", t, func() {
		undo := keyAt(0, 3)
		undo.Kind = caret.KindUndo
		drop := keyAt(0, 3)
		drop.Kind = caret.KindDrop
		fix := keyAt(0, 3)
		fix.InputType = "insertReplacementText"
		fix.Kind = caret.KindAutocorrect

		Convey("Then the default ladder counts them without dedicated states", func() {
			e := caret.New()
			e.Update(undo)
			So(e.State().Primary, ShouldEqual, caret.StateActiveIdle)
			So(e.Stats().UndosRedos, ShouldEqual, 1)
		})

		Convey("Then the policy reports each state for its triggering event", func() {
			e := caret.New(caret.WithPolicy(caret.Policy{
				ClassifyUndoRedo:    true,
				ClassifyDrop:        true,
				ClassifyAutocorrect: true,
			}))
			e.Update(undo)
			So(e.State().Primary, ShouldEqual, caret.StateUndoRedo)

			drop.TimestampMS = 10
			e.Update(drop)
			So(e.State().Primary, ShouldEqual, caret.StateDrop)

			fix.TimestampMS = 20
			e.Update(fix)
			So(e.State().Primary, ShouldEqual, caret.StateAutocorrect)

			st := e.Stats()
			So(st.UndosRedos, ShouldEqual, 1)
			So(st.Drops, ShouldEqual, 1)
			So(st.Autocorrects, ShouldEqual, 1)

			Convey("And a flush does not hold the event-scoped state", func() {
				So(e.Flush(30), ShouldEqual, 1)
				So(e.State().Primary, ShouldEqual, caret.StateActiveIdle)
			})
		})
	})
}

func TestEngineTypingMetrics(t *testing.T) {
	Convey("Given keystrokes 100ms apart", t, func() {
		e := caret.New()
		for i := uint64(0); i < 5; i++ {
			e.Update(keyAt(i*100, uint32(i+1)))
		}
		st := e.Stats()

		Convey("Then the gauges converge on the cadence", func() {
			So(st.Keystrokes, ShouldEqual, 5)
			So(st.AvgInterKeyMS, ShouldAlmostEqual, 100, 0.0001)
			So(st.EPSSmoothed, ShouldAlmostEqual, 10, 0.0001)
			So(st.WPMSmoothed, ShouldAlmostEqual, 120, 0.0001)
			So(st.BurstLenCurrent, ShouldEqual, 5)
			So(st.BurstLenMax, ShouldEqual, 5)
		})

		Convey("Then a slow key starts a new burst", func() {
			e.Update(keyAt(2000, 6))
			st := e.Stats()
			So(st.BurstLenCurrent, ShouldEqual, 1)
			So(st.BurstLenMax, ShouldEqual, 5)
		})
	})
}

func TestEngineHistory(t *testing.T) {
	Convey("Given more emissions than the history holds", t, func() {
		e := caret.New()
		for i := 0; i <= caret.RingCapacity; i++ {
			ev := keyAt(uint64(i), uint32(i%2))
			ev.Kind = caret.KindFocusIn
			ev.TextLen = uint32(i)
			So(e.Update(ev), ShouldBeTrue)
		}

		Convey("Then a drain returns capacity entries oldest first without the first emission", func() {
			out := e.DrainSnapshots()
			So(len(out), ShouldEqual, caret.RingCapacity)
			So(out[0].TextLen, ShouldEqual, 1)
			So(out[len(out)-1].TextLen, ShouldEqual, caret.RingCapacity)
			So(e.Stats().SnapshotsEmitted, ShouldEqual, caret.RingCapacity+1)

			Convey("And a second drain is empty", func() {
				So(e.DrainSnapshots(), ShouldBeEmpty)
			})
		})

		Convey("Then Take drains in bounded chunks", func() {
			buf := make([]caret.Snapshot, 100)
			So(e.Take(buf), ShouldEqual, 100)
			So(buf[0].TextLen, ShouldEqual, 1)
			So(e.Pending(), ShouldEqual, caret.RingCapacity-100)
			rest := e.DrainInto(nil)
			So(len(rest), ShouldEqual, caret.RingCapacity-100)
			So(rest[0].TextLen, ShouldEqual, 101)
		})
	})

	Convey("Given a drained engine", t, func() {
		e := caret.New()
		e.Update(keyAt(0, 1))
		e.DrainSnapshots()

		Convey("Then later emissions are drained in order", func() {
			e.Flush(400)
			e.Flush(2500)
			out := e.DrainSnapshots()
			So(len(out), ShouldEqual, 2)
			So(out[0].Primary, ShouldEqual, caret.StateShortPause)
			So(out[1].Primary, ShouldEqual, caret.StateLongPause)
		})
	})
}

func TestEngineClock(t *testing.T) {
	Convey("Given an event older than the last seen timestamp", t, func() {
		e := caret.New()
		e.Update(keyAt(1000, 1))
		e.Update(keyAt(900, 2))

		Convey("Then it is clamped and counted", func() {
			So(e.Stats().ClampedTimestamps, ShouldEqual, 1)
			So(e.State().TimestampMS, ShouldEqual, 1000)
		})

		Convey("Then a stale flush is clamped too", func() {
			e.Flush(10)
			So(e.Stats().ClampedTimestamps, ShouldEqual, 2)
			So(e.State().TimestampMS, ShouldEqual, 1000)
		})
	})
}

func TestEngineSetters(t *testing.T) {
	Convey("Given a running engine", t, func() {
		e := caret.New()
		e.Update(keyAt(0, 1))

		Convey("When the device tier changes", func() {
			e.SetDeviceTier(caret.TierCPU)
			changed := e.Update(keyAt(10, 1))

			Convey("Then the next snapshot carries it", func() {
				So(changed, ShouldBeTrue)
				So(e.State().DeviceTier, ShouldEqual, caret.TierCPU)
			})
		})

		Convey("When an unknown tier is set it is ignored", func() {
			e.SetDeviceTier(caret.DeviceTier(42))
			So(e.DeviceTier(), ShouldEqual, caret.TierWasm)
		})

		Convey("When thresholds change they apply on the next flush", func() {
			th := e.Thresholds()
			th.ShortPauseMS = 50
			th.LongPauseMS = 100
			e.SetThresholds(th)
			So(e.State().Primary, ShouldEqual, caret.StateTyping)
			So(e.Flush(150), ShouldEqual, 1)
			So(e.State().Primary, ShouldEqual, caret.StateLongPause)
		})
	})
}
