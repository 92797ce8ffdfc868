package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	ctx := context.Background()

	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		l := New(WithWriter(&buf), WithFormat(FormatJSON), WithLevel(slog.LevelInfo))

		Convey("When logging with fields", func() {
			l.Named("engine").With(String("session_id", "s1")).Info(ctx, "snapshot emitted",
				String("primary", "TYPING"), Uint64("events", 3), Error(errors.New("boom")))

			Convey("Then the entry carries component, fields and source", func() {
				var entry map[string]any
				So(json.Unmarshal(buf.Bytes(), &entry), ShouldBeNil)
				So(entry["msg"], ShouldEqual, "snapshot emitted")
				So(entry["component"], ShouldEqual, "engine")
				So(entry["session_id"], ShouldEqual, "s1")
				So(entry["primary"], ShouldEqual, "TYPING")
				So(entry["error"], ShouldEqual, "boom")
				So(entry["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When logging below the level", func() {
			l.Debug(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)
		})

		Convey("When the level is lowered", func() {
			So(SetLevelString("debug"), ShouldBeNil)
			l.Debug(ctx, "shown")
			So(buf.String(), ShouldContainSubstring, "shown")
			So(SetLevelString("info"), ShouldBeNil)
		})
	})

	Convey("Given level names", t, func() {
		for name, want := range map[string]slog.Level{
			"debug": slog.LevelDebug, "": slog.LevelInfo, "WARNING": slog.LevelWarn, "error": slog.LevelError,
		} {
			got, err := ParseLevel(name)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}
		_, err := ParseLevel("loud")
		So(err, ShouldNotBeNil)
	})

	Convey("Given the global logger", t, func() {
		So(Init(WithWriter(&bytes.Buffer{})), ShouldBeNil)
		So(Get(), ShouldNotBeNil)
		So(Named("api"), ShouldNotBeNil)
		So(Sync(), ShouldBeNil)
		NewNop().Error(ctx, "discarded")
	})
}
