package engine

import "errors"

// Sentinel errors returned from the hot path (spec §7 "error kinds").
// The hot path never panics; every failure mode surfaces as one of
// these, wrapped with errors.Is-compatible context where useful.
var (
	// ErrInvalidInput covers a malformed required argument, e.g. a
	// stored value passed to DecodeWire that is shorter than its
	// 2-byte dict_id prefix.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrUnknownDict is returned when decode is given a dict_id not
	// present in the current routing table.
	ErrUnknownDict = errors.New("engine: unknown dictionary id")

	// ErrCorruptFrame is returned when the codec fails to decode a
	// frame for a dictionary id that does exist.
	ErrCorruptFrame = errors.New("engine: corrupt frame")

	// ErrOversizeOutput is returned when a frame's declared or
	// estimated content size exceeds the caller-supplied cap.
	ErrOversizeOutput = errors.New("engine: decompressed size exceeds cap")
)
