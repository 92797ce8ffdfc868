package bridge

import "errors"

// Sentinel kinds for boundary rejections.
var (
	ErrBadRecord    = errors.New("malformed record")
	ErrBadEncoding  = errors.New("input is not valid UTF-8")
	ErrSchema       = errors.New("input does not match schema")
	ErrUnknownCode  = errors.New("unknown enum code")
	ErrUnknownFlags = errors.New("unknown flag bits")
)
