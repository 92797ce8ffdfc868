package caret

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithThresholds sets the initial thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = t
	}
}

// WithDeviceTier sets the tier reported in snapshots.
func WithDeviceTier(tier DeviceTier) Option {
	return func(e *Engine) {
		if tier.Valid() {
			e.tier = tier
		}
	}
}

// WithPolicy enables the optional classification states.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}
