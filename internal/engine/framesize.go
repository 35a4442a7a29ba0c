package engine

import "encoding/binary"

// zstdMagic is the 4-byte little-endian zstd frame magic number.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// frameContentSize parses just enough of a zstd frame header to report
// the content size the codec declares, without decompressing. This
// backs both IsCompressed (spec §4.7) and the oversize-output guard
// (spec §7 "oversize output"), since klauspost/compress/zstd does not
// expose a standalone ZSTD_getFrameContentSize-style accessor.
//
// Returns known=false when the frame omits the content size field (a
// legal zstd frame, e.g. produced by a streaming encoder that didn't
// know its length up front); callers fall back to a pessimistic
// multiple of the input size in that case, per spec §4.7.
func frameContentSize(frame []byte) (size int64, known bool, ok bool) {
	if len(frame) < 5 || frame[0] != zstdMagic[0] || frame[1] != zstdMagic[1] || frame[2] != zstdMagic[2] || frame[3] != zstdMagic[3] {
		return 0, false, false
	}
	pos := 4
	fhd := frame[pos]
	pos++

	fcsFlag := fhd >> 6
	singleSegment := (fhd>>5)&1 == 1
	dictIDFlag := fhd & 0x3

	if !singleSegment {
		// Window_Descriptor: 1 byte.
		if len(frame) < pos+1 {
			return 0, false, false
		}
		pos++
	}

	var dictIDLen int
	switch dictIDFlag {
	case 0:
		dictIDLen = 0
	case 1:
		dictIDLen = 1
	case 2:
		dictIDLen = 2
	case 3:
		dictIDLen = 4
	}
	if len(frame) < pos+dictIDLen {
		return 0, false, false
	}
	pos += dictIDLen

	var fcsLen int
	switch fcsFlag {
	case 0:
		if singleSegment {
			fcsLen = 1
		} else {
			fcsLen = 0
		}
	case 1:
		fcsLen = 2
	case 2:
		fcsLen = 4
	case 3:
		fcsLen = 8
	}
	if fcsLen == 0 {
		return 0, false, true
	}
	if len(frame) < pos+fcsLen {
		return 0, false, false
	}
	raw := frame[pos : pos+fcsLen]
	var value uint64
	switch fcsLen {
	case 1:
		value = uint64(raw[0])
	case 2:
		// stored value is content_size - 256 per the zstd spec when fcsLen==2
		value = uint64(binary.LittleEndian.Uint16(raw)) + 256
	case 4:
		value = uint64(binary.LittleEndian.Uint32(raw))
	case 8:
		value = uint64(binary.LittleEndian.Uint64(raw))
	}
	return int64(value), true, true
}

// IsCompressed reports whether frame is a valid zstd frame with a
// parseable header (spec §4.7 "is_compressed").
func IsCompressed(frame []byte) bool {
	_, _, ok := frameContentSize(frame)
	return ok
}
