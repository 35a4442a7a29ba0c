// Package probe implements the incompressibility heuristic (spec §4.1):
// a fast, pure, stateless check that rejects payloads unlikely to
// benefit from dictionary compression before any codec work runs.
package probe

import (
	"bytes"
	"math"

	"github.com/klauspost/compress/zstd"
)

const sampleWindow = 512

// magic is a well-known header for an already-compressed or media format.
type magic struct {
	offset int
	bytes  []byte
}

var magics = []magic{
	{0, []byte{0x28, 0xb5, 0x2f, 0xfd}},             // zstd frame
	{0, []byte{0x50, 0x4b, 0x03, 0x04}},             // zip
	{0, []byte{0x50, 0x4b, 0x05, 0x06}},             // zip (empty archive)
	{0, []byte{0x1f, 0x8b}},                         // gzip
	{0, []byte{0x04, 0x22, 0x4d, 0x18}},             // lz4 frame
	{0, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},  // xz
	{0, []byte{0x42, 0x5a, 0x68}},                    // bzip2
	{0, []byte{0xff, 0xd8, 0xff}},                    // jpeg
	{0, []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}}, // png
	{0, []byte{0x47, 0x49, 0x46, 0x38}},              // gif
	{0, []byte("OggS")},                              // ogg
	{8, []byte("WEBP")},                               // webp via RIFF
	{4, []byte("ftyp")},                               // ISO-BMFF (mp4/mov/...)
	{0, []byte{0x49, 0x44, 0x33}},                     // mp3 ID3
	{0, []byte("%PDF")},                               // pdf
}

// IsLikelyIncompressible runs the 5-step heuristic from spec §4.1.
func IsLikelyIncompressible(buf []byte) bool {
	if matchesKnownMagic(buf) {
		return true
	}

	n := len(buf)
	if n > sampleWindow {
		n = sampleWindow
	}
	sample := buf[:n]
	if n == 0 {
		return false
	}

	if asciiPrintableRatio(sample) >= 0.85 {
		return false
	}

	h := byteEntropy(sample)
	if h >= 7.5 {
		return true
	}
	if h <= 7.0 {
		return false
	}

	if looksBase64(sample) {
		return true
	}

	return !fastSampleCompresses(sample)
}

func matchesKnownMagic(buf []byte) bool {
	for _, m := range magics {
		end := m.offset + len(m.bytes)
		if len(buf) < end {
			continue
		}
		if bytes.Equal(buf[m.offset:end], m.bytes) {
			return true
		}
	}
	return false
}

func asciiPrintableRatio(sample []byte) float64 {
	printable := 0
	for _, b := range sample {
		if (b >= 0x20 && b <= 0x7e) || b == '\t' || b == '\n' || b == '\r' {
			printable++
		}
	}
	return float64(printable) / float64(len(sample))
}

func byteEntropy(sample []byte) float64 {
	var counts [256]int
	for _, b := range sample {
		counts[b]++
	}
	n := float64(len(sample))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

func looksBase64(sample []byte) bool {
	alpha := 0
	pad := 0
	for _, b := range sample {
		if b == '=' {
			pad++
			alpha++
			continue
		}
		if bytes.IndexByte([]byte(base64Alphabet), b) >= 0 {
			alpha++
		}
	}
	ratio := float64(alpha) / float64(len(sample))
	return ratio >= 0.90 && pad <= 2
}

// fastSampleCompresses reports whether compressing the sample at a fast
// level yields at least a 2% size reduction.
func fastSampleCompresses(sample []byte) bool {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return true
	}
	defer enc.Close()

	compressed := enc.EncodeAll(sample, nil)
	if len(sample) == 0 {
		return true
	}
	gain := 1.0 - float64(len(compressed))/float64(len(sample))
	return gain >= 0.02
}
