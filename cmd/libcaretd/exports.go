package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/okian/caretd/pkg/bridge"
)

// cbufs maps buffer ids to their C copies until the host releases them.
//
//nolint:gochecknoglobals // C memory handed to the host
var (
	cbufMu sync.Mutex
	cbufs  = make(map[bridge.BufferID]unsafe.Pointer)
)

func bytesOf(p *C.uint8_t, n C.size_t) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}

// handOut copies data into C memory registered under id.
func handOut(id bridge.BufferID, data []byte, outLen *C.size_t, outID *C.uint64_t) *C.uint8_t {
	p := C.CBytes(data)
	cbufMu.Lock()
	cbufs[id] = p
	cbufMu.Unlock()
	if outLen != nil {
		*outLen = C.size_t(len(data))
	}
	if outID != nil {
		*outID = C.uint64_t(id)
	}
	return (*C.uint8_t)(p)
}

//export caretd_version
func caretd_version(outLen *C.size_t, outID *C.uint64_t) *C.uint8_t {
	id, data := version()
	return handOut(id, data, outLen, outID)
}

//export caretd_engine_new
func caretd_engine_new(tier C.uint32_t) C.uint64_t {
	return C.uint64_t(newEngine(uint32(tier)))
}

//export caretd_engine_new_with_thresholds
func caretd_engine_new_with_thresholds(tier C.uint32_t, json *C.uint8_t, n C.size_t) C.uint64_t {
	return C.uint64_t(newEngineJSON(uint32(tier), bytesOf(json, n)))
}

//export caretd_engine_free
func caretd_engine_free(h C.uint64_t) C.int32_t {
	return C.int32_t(freeEngine(uint64(h)))
}

//export caretd_engine_update
func caretd_engine_update(h C.uint64_t, rec *C.uint8_t, n C.size_t) C.int32_t {
	return C.int32_t(update(uint64(h), bytesOf(rec, n)))
}

//export caretd_engine_update_json
func caretd_engine_update_json(h C.uint64_t, json *C.uint8_t, n C.size_t) C.int32_t {
	return C.int32_t(updateJSON(uint64(h), bytesOf(json, n)))
}

//export caretd_engine_flush
func caretd_engine_flush(h C.uint64_t, nowMS C.uint64_t) C.uint32_t {
	return C.uint32_t(flush(uint64(h), uint64(nowMS)))
}

//export caretd_engine_get_snapshots
func caretd_engine_get_snapshots(h C.uint64_t, dst *C.uint8_t, maxCount C.uint32_t) C.uint32_t {
	size := C.size_t(maxCount) * C.size_t(bridge.SnapshotRecordSize)
	return C.uint32_t(copySnapshots(uint64(h), bytesOf(dst, size)))
}

//export caretd_engine_state
func caretd_engine_state(h C.uint64_t, dst *C.uint8_t) C.int32_t {
	return C.int32_t(state(uint64(h), bytesOf(dst, C.size_t(bridge.SnapshotRecordSize))))
}

//export caretd_engine_set_thresholds
func caretd_engine_set_thresholds(h C.uint64_t, json *C.uint8_t, n C.size_t) C.int32_t {
	return C.int32_t(setThresholdsJSON(uint64(h), bytesOf(json, n)))
}

//export caretd_engine_set_device_tier
func caretd_engine_set_device_tier(h C.uint64_t, tier C.uint32_t) C.int32_t {
	return C.int32_t(setDeviceTier(uint64(h), uint32(tier)))
}

//export caretd_engine_drain_json
func caretd_engine_drain_json(h C.uint64_t, outLen *C.size_t, outID *C.uint64_t) *C.uint8_t {
	id, data, ok := drainJSON(uint64(h))
	if !ok {
		return nil
	}
	return handOut(id, data, outLen, outID)
}

//export caretd_buffer_release
func caretd_buffer_release(id C.uint64_t) C.int32_t {
	bid := bridge.BufferID(id)
	if !releaseBuffer(uint64(id)) {
		return 0
	}
	cbufMu.Lock()
	p := cbufs[bid]
	delete(cbufs, bid)
	cbufMu.Unlock()
	C.free(p)
	return 1
}
