// Package routing builds and serves the immutable, versioned routing
// table (spec §4.5): namespace prefixes to active dictionaries, plus a
// direct id → metadata index.
package routing

import (
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/minio/cachecomp/internal/dictpool"
)

// Meta is one dictionary-metadata record (spec §3 "Dictionary
// metadata"). Compiled codec handles are owned by the dictionary pool,
// not by Meta; Meta only carries a borrowed reference via CodecPool.
type Meta struct {
	ID           uint16
	DictPath     string
	ManifestPath string
	CreatedAt    time.Time
	RetiredAt    time.Time // zero value => active
	Level        int
	Prefixes     []string
	Signature    string
	Size         int64

	dictBytes []byte
	codecPool *dictpool.CodecPool
}

// Active reports whether the record has not been retired.
func (m *Meta) Active() bool { return m.RetiredAt.IsZero() }

// IdentityKey implements dictpool.Meta: signature if present, else the
// dictionary blob path (spec §4.3 "identity key").
func (m *Meta) IdentityKey() string {
	if m.Signature != "" {
		return "sig:" + m.Signature
	}
	return "path:" + m.DictPath
}

// PrefixCount implements dictpool.Meta.
func (m *Meta) PrefixCount() int { return len(m.Prefixes) }

// DictBytes implements dictpool.Meta, returning the raw loaded blob.
func (m *Meta) DictBytes() []byte { return m.dictBytes }

// Level implements dictpool.Meta.
func (m *Meta) Level() int { return m.Level }

// BindCodecPool implements dictpool.Meta.
func (m *Meta) BindCodecPool(cp *dictpool.CodecPool) { m.codecPool = cp }

// CodecPool implements dictpool.Meta.
func (m *Meta) CodecPool() *dictpool.CodecPool { return m.codecPool }

// BorrowEncoder/BorrowDecoder/Return* are convenience passthroughs used
// by the compression engine's per-thread contexts.

// BorrowEncoder borrows a pooled encoder bound to this dictionary.
func (m *Meta) BorrowEncoder() *zstd.Encoder {
	if m.codecPool == nil {
		return nil
	}
	return m.codecPool.BorrowEncoder()
}

// ReturnEncoder returns a borrowed encoder.
func (m *Meta) ReturnEncoder(enc *zstd.Encoder) {
	if m.codecPool != nil {
		m.codecPool.ReturnEncoder(enc)
	}
}

// BorrowDecoder borrows a pooled decoder bound to this dictionary.
func (m *Meta) BorrowDecoder() *zstd.Decoder {
	if m.codecPool == nil {
		return nil
	}
	return m.codecPool.BorrowDecoder()
}

// ReturnDecoder returns a borrowed decoder.
func (m *Meta) ReturnDecoder(dec *zstd.Decoder) {
	if m.codecPool != nil {
		m.codecPool.ReturnDecoder(dec)
	}
}

// setDictBytes is used only while building a table (scan/clone), before
// the record is shared with readers.
func (m *Meta) setDictBytes(b []byte) { m.dictBytes = b }
