package session_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

func key(ts uint64, pos uint32) caret.Event {
	return caret.Event{Kind: caret.KindKeyDown, TimestampMS: ts, Caret: pos, TextLen: pos}
}

func TestSessionApply(t *testing.T) {
	Convey("Given a fresh session", t, func() {
		wall := time.Unix(1_700_000_000, 0)
		s := session.New("s1", wall)

		Convey("Then ticking before any event does nothing", func() {
			So(s.Tick(wall.Add(time.Hour)), ShouldEqual, 0)
			_, ok := s.ClientNow(wall)
			So(ok, ShouldBeFalse)
		})

		Convey("When a key event is applied", func() {
			a := s.Apply(key(1000, 1), wall)

			Convey("Then the state changes and the delta counts it", func() {
				So(a.Changed, ShouldBeTrue)
				So(a.State.Primary, ShouldEqual, caret.StateTyping)
				So(a.Delta.EventsProcessed, ShouldEqual, 1)
				So(a.Delta.Keystrokes, ShouldEqual, 1)
				So(s.Pending(), ShouldEqual, 1)
			})

			Convey("Then the client clock follows wall time from the anchor", func() {
				ms, ok := s.ClientNow(wall.Add(2 * time.Second))
				So(ok, ShouldBeTrue)
				So(ms, ShouldEqual, 3000)
			})

			Convey("Then a tick long after moves to LONG_PAUSE", func() {
				So(s.Tick(wall.Add(5*time.Second)), ShouldEqual, 1)
				So(s.State().Primary, ShouldEqual, caret.StateLongPause)
				So(len(s.Drain()), ShouldEqual, 2)
				So(s.Pending(), ShouldEqual, 0)
			})
		})
	})
}

func TestSessionSettings(t *testing.T) {
	Convey("Given a session", t, func() {
		s := session.New("s2", time.Now(), session.WithEngineOptions(caret.WithDeviceTier(caret.TierNative)))
		So(s.DeviceTier(), ShouldEqual, caret.TierNative)

		Convey("Then invalid thresholds are refused and the old ones kept", func() {
			bad := caret.DefaultThresholds()
			bad.ShortPauseMS = 0
			So(errors.Is(s.SetThresholds(bad), caret.ErrInvalidThresholds), ShouldBeTrue)
			So(s.Thresholds(), ShouldResemble, caret.DefaultThresholds())
		})

		Convey("Then an unknown tier is refused", func() {
			So(s.SetDeviceTier(caret.DeviceTier(9)), ShouldNotBeNil)
			So(s.SetDeviceTier(caret.TierCPU), ShouldBeNil)
			So(s.DeviceTier(), ShouldEqual, caret.TierCPU)
		})

		Convey("Then entering a region is reported", func() {
			So(s.SetRegion(&caret.Region{Start: 4, End: 2}), ShouldNotBeNil)
			So(s.SetRegion(&caret.Region{Start: 10, End: 20}), ShouldBeNil)
			now := time.Now()
			So(s.Apply(key(1, 1), now).RegionEntered, ShouldBeFalse)
			So(s.Apply(key(2, 12), now).RegionEntered, ShouldBeTrue)
			So(s.SetRegion(nil), ShouldBeNil)
			_, ok := s.Region()
			So(ok, ShouldBeFalse)
		})
	})
}

func TestSessionRateLimit(t *testing.T) {
	Convey("Given a session limited to a burst of two", t, func() {
		s := session.New("s3", time.Now(), session.WithRateLimit(1, 2))
		now := time.Now()
		So(s.Allow(now), ShouldBeTrue)
		So(s.Allow(now), ShouldBeTrue)
		So(s.Allow(now), ShouldBeFalse)
		So(s.Allow(now.Add(2*time.Second)), ShouldBeTrue)
	})
}

func TestSessionTickSettles(t *testing.T) {
	Convey("Given a session that just saw a key", t, func() {
		wall := time.Unix(1_700_000_000, 0)
		s := session.New("s4", wall)
		s.Apply(key(0, 1), wall)

		Convey("Then ticks inside the short pause leave TYPING alone", func() {
			So(s.Tick(wall.Add(100*time.Millisecond)), ShouldEqual, 0)
			So(s.State().Primary, ShouldEqual, caret.StateTyping)
		})

		Convey("Then an explicit flush still applies engine semantics", func() {
			So(s.Flush(100), ShouldEqual, 1)
			So(s.State().Primary, ShouldEqual, caret.StateActiveIdle)
		})

		Convey("Then a tick after the short pause reports SHORT_PAUSE", func() {
			So(s.Tick(wall.Add(400*time.Millisecond)), ShouldEqual, 1)
			So(s.State().Primary, ShouldEqual, caret.StateShortPause)
		})
	})
}

func TestSessionTickReleasesShortDecay(t *testing.T) {
	Convey("Given a session whose decay window is shorter than the short pause", t, func() {
		wall := time.Unix(1_700_000_000, 0)
		th := caret.DefaultThresholds()
		th.DecayMS = 50
		s := session.New("s5", wall, session.WithEngineOptions(caret.WithThresholds(th)))
		s.Apply(caret.Event{Kind: caret.KindPaste, TimestampMS: 0, Caret: 5, TextLen: 5}, wall)
		So(s.State().Primary, ShouldEqual, caret.StatePasted)

		Convey("Then a tick after the decay window releases PASTED", func() {
			So(s.ScheduleTick(wall.Add(100*time.Millisecond)), ShouldBeTrue)
			So(s.Tick(wall.Add(100*time.Millisecond)), ShouldEqual, 1)
			So(s.State().Primary, ShouldEqual, caret.StateActiveIdle)
		})

		Convey("Then a tick inside the decay window waits", func() {
			So(s.ScheduleTick(wall.Add(20*time.Millisecond)), ShouldBeFalse)
			So(s.Tick(wall.Add(20*time.Millisecond)), ShouldEqual, 0)
			So(s.State().Primary, ShouldEqual, caret.StatePasted)
		})
	})
}

func TestSessionScheduleTick(t *testing.T) {
	Convey("Given a session that typed one key", t, func() {
		wall := time.Unix(1_700_000_000, 0)
		s := session.New("s6", wall)

		So(s.ScheduleTick(wall.Add(time.Hour)), ShouldBeFalse)
		s.Apply(key(0, 1), wall)

		Convey("Then no tick is due inside the short pause", func() {
			So(s.ScheduleTick(wall.Add(100*time.Millisecond)), ShouldBeFalse)
		})

		Convey("Then only one tick is queued at a time", func() {
			later := wall.Add(500 * time.Millisecond)
			So(s.ScheduleTick(later), ShouldBeTrue)
			So(s.ScheduleTick(later), ShouldBeFalse)

			s.CancelTick()
			So(s.ScheduleTick(later), ShouldBeTrue)
			So(s.Tick(later), ShouldEqual, 1)
			So(s.ScheduleTick(later.Add(100*time.Millisecond)), ShouldBeTrue)
		})

		Convey("Then the session settles after the long pause", func() {
			late := wall.Add(3 * time.Second)
			So(s.ScheduleTick(late), ShouldBeTrue)
			So(s.Tick(late), ShouldEqual, 1)
			So(s.State().Primary, ShouldEqual, caret.StateLongPause)
			So(s.ScheduleTick(late.Add(time.Minute)), ShouldBeFalse)

			Convey("And a new event wakes it", func() {
				s.Apply(key(5000, 2), late)
				So(s.ScheduleTick(late.Add(time.Second)), ShouldBeTrue)
			})

			Convey("And new thresholds wake it", func() {
				th := caret.DefaultThresholds()
				th.LongPauseMS = 90_000
				So(s.SetThresholds(th), ShouldBeNil)
				So(s.ScheduleTick(late.Add(time.Second)), ShouldBeTrue)
			})
		})
	})
}

func TestSessionDeliverOrder(t *testing.T) {
	Convey("Given deliverers racing the event source", t, func() {
		wall := time.Unix(1_700_000_000, 0)
		s := session.New("s7", wall)

		var (
			mu        sync.Mutex
			delivered []uint64
			wg        sync.WaitGroup
		)
		record := func(snaps []caret.Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			for _, sn := range snaps {
				delivered = append(delivered, sn.TimestampMS)
			}
		}

		stop := make(chan struct{})
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						s.Deliver(record)
					}
				}
			}()
		}
		for i := range 500 {
			s.Apply(key(uint64(i+1), uint32(i+1)), wall)
		}
		close(stop)
		wg.Wait()
		s.Deliver(record)

		Convey("Then every batch arrives in emission order", func() {
			So(delivered, ShouldNotBeEmpty)
			ordered := true
			for i := 1; i < len(delivered); i++ {
				ordered = ordered && delivered[i] > delivered[i-1]
			}
			So(ordered, ShouldBeTrue)
			So(delivered[len(delivered)-1], ShouldEqual, 500)
			So(s.Pending(), ShouldEqual, 0)
		})
	})
}
