package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a manager on a private registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(
			WithPrometheusRegistry(registry),
			WithNamespace("test"),
			WithSubsystem("caret"),
			WithConstLabels(map[string]string{"env": "test"}),
			WithHistogramBuckets([]float64{1, 10}),
		)

		Convey("Then its collectors are registered under the namespace", func() {
			m.eventsByKind.WithLabelValues("INPUT").Inc()
			families, err := registry.Gather()
			So(err, ShouldBeNil)
			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["test_caret_events_total"], ShouldBeTrue)
		})
	})
}

func TestPackageRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When events and snapshots are recorded", func() {
			before := value(globalManager.eventsByKind.WithLabelValues("KEY_DOWN"))
			RecordEvent("KEY_DOWN")
			RecordSnapshots("TYPING", 2)
			RecordSnapshots("TYPING", 0)

			Convey("Then the counters move", func() {
				So(value(globalManager.eventsByKind.WithLabelValues("KEY_DOWN")), ShouldEqual, before+1)
				So(value(globalManager.snapshotsByState.WithLabelValues("TYPING")), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})

		Convey("When queue gauges are updated", func() {
			UpdateQueueCapacity(100)
			UpdateQueueSize(25, 100)
			So(value(globalManager.queueUtilization), ShouldEqual, 0.25)
			So(value(globalManager.queueCapacity), ShouldEqual, 100)
		})

		Convey("Then the shared registry gathers", func() {
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}

func value(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	return -1
}
