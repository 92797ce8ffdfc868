package caret

// Region is an inclusive caret range, typically the span a downstream
// correction pass is working on.
type Region struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Contains reports whether caret lies in [Start, End].
func (r Region) Contains(caret uint32) bool {
	return caret >= r.Start && caret <= r.End
}

// RegionWatcher signals when the caret enters the active region from
// outside. Setting a region requires a fresh entry before it signals.
type RegionWatcher struct {
	region    Region
	set       bool
	inside    bool
	lastCaret uint32
}

// Set installs r as the active region.
func (w *RegionWatcher) Set(r Region) {
	w.region = r
	w.set = true
	w.inside = false
}

// Clear removes the active region.
func (w *RegionWatcher) Clear() {
	w.set = false
	w.inside = false
}

// Region returns the active region and whether one is set.
func (w *RegionWatcher) Region() (Region, bool) { return w.region, w.set }

// Observe records a caret position and reports whether it just entered the region.
func (w *RegionWatcher) Observe(caret uint32) bool {
	entered := false
	if w.set {
		in := w.region.Contains(caret)
		entered = in && !w.inside && caret != w.lastCaret
		w.inside = in
	} else {
		w.inside = false
	}
	w.lastCaret = caret
	return entered
}
