package main

import (
	"github.com/okian/caretd/pkg/bridge"
)

// lib owns every engine and buffer handed across the boundary.
var lib = bridge.New() //nolint:gochecknoglobals // one registry per loaded library

func boolCode(ok bool) int32 {
	if ok {
		return 1
	}
	return 0
}

func newEngine(tier uint32) uint64 {
	return uint64(lib.Create(tier))
}

func newEngineJSON(tier uint32, thresholds []byte) uint64 {
	t, err := bridge.DecodeThresholds(thresholds)
	if err != nil {
		return 0
	}
	return uint64(lib.CreateWithThresholds(tier, t))
}

func freeEngine(h uint64) int32 {
	return boolCode(lib.Free(bridge.Handle(h)))
}

func update(h uint64, rec []byte) int32 {
	return boolCode(lib.UpdateBinary(bridge.Handle(h), rec))
}

func updateJSON(h uint64, data []byte) int32 {
	return boolCode(lib.UpdateJSON(bridge.Handle(h), data))
}

func flush(h uint64, nowMS uint64) uint32 {
	return lib.Flush(bridge.Handle(h), nowMS)
}

// copySnapshots moves as many of the oldest pending snapshots as fit in
// dst, encoded back to back as SnapshotRecordSize byte records.
func copySnapshots(h uint64, dst []byte) uint32 {
	recs := make([]bridge.SnapshotRecord, len(dst)/bridge.SnapshotRecordSize)
	n := lib.CopySnapshots(bridge.Handle(h), recs)
	for i := range recs[:n] {
		b, _ := recs[i].MarshalBinary()
		copy(dst[i*bridge.SnapshotRecordSize:], b)
	}
	return n
}

// state writes the latest snapshot of h into dst.
func state(h uint64, dst []byte) int32 {
	if len(dst) < bridge.SnapshotRecordSize {
		return 0
	}
	rec, ok := lib.State(bridge.Handle(h))
	if !ok {
		return 0
	}
	b, _ := rec.MarshalBinary()
	copy(dst, b)
	return 1
}

func setThresholdsJSON(h uint64, data []byte) int32 {
	return boolCode(lib.SetThresholdsJSON(bridge.Handle(h), data))
}

func setDeviceTier(h uint64, tier uint32) int32 {
	return boolCode(lib.SetDeviceTier(bridge.Handle(h), tier))
}

func drainJSON(h uint64) (bridge.BufferID, []byte, bool) {
	return lib.DrainJSON(bridge.Handle(h))
}

func version() (bridge.BufferID, []byte) {
	return lib.VersionBuffer()
}

func releaseBuffer(id uint64) bool {
	return lib.ReleaseBuffer(bridge.BufferID(id))
}
