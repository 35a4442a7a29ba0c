// Package dictpool implements the reference-counted registry of
// compiled compressor/decompressor dictionaries (spec §4.3). Entries
// are deduplicated by a stable identity key — a dictionary's content
// signature if it has one, else its blob file path.
//
// klauspost/compress/zstd has no standalone "compiled dictionary"
// handle the way the C zstd API's ZSTD_CDict/ZSTD_DDict do; a dictionary
// is bound at Encoder/Decoder construction time. The pool therefore
// shares the compiled *bytes* across every namespace placement (the
// expensive, reusable artifact) and hands each borrower its own
// encoder/decoder built from those bytes via a sync.Pool pair, mirroring
// the teacher pack's own cctxPool/dctxPool sync.Pool pattern for codec
// contexts.
package dictpool

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Meta is the minimal view of a dictionary-metadata record the pool
// needs. internal/routing.Meta satisfies this.
type Meta interface {
	IdentityKey() string
	PrefixCount() int
	DictBytes() []byte
	Level() int
	BindCodecPool(cp *CodecPool)
	CodecPool() *CodecPool
}

// CodecPool hands out encoders/decoders bound to one compiled
// dictionary. Safe for concurrent use; Borrow/Return are the only
// entry points.
type CodecPool struct {
	dictBytes []byte
	level     int
	encPool   sync.Pool
	decPool   sync.Pool
}

func newCodecPool(dictBytes []byte, level int) *CodecPool {
	cp := &CodecPool{dictBytes: dictBytes, level: level}
	cp.encPool.New = func() interface{} {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderDictRaw(0, dictBytes),
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil
		}
		return enc
	}
	cp.decPool.New = func() interface{} {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderDictRaw(0, dictBytes))
		if err != nil {
			return nil
		}
		return dec
	}
	return cp
}

// BorrowEncoder returns a pooled encoder bound to this dictionary.
func (cp *CodecPool) BorrowEncoder() *zstd.Encoder {
	v := cp.encPool.Get()
	if v == nil {
		return nil
	}
	return v.(*zstd.Encoder)
}

// ReturnEncoder returns an encoder for reuse.
func (cp *CodecPool) ReturnEncoder(enc *zstd.Encoder) {
	if enc != nil {
		cp.encPool.Put(enc)
	}
}

// BorrowDecoder returns a pooled decoder bound to this dictionary.
func (cp *CodecPool) BorrowDecoder() *zstd.Decoder {
	v := cp.decPool.Get()
	if v == nil {
		return nil
	}
	return v.(*zstd.Decoder)
}

// ReturnDecoder returns a decoder for reuse.
func (cp *CodecPool) ReturnDecoder(dec *zstd.Decoder) {
	if dec != nil {
		cp.decPool.Put(dec)
	}
}

func (cp *CodecPool) close() {
	// sync.Pool has no enumerable drain; encoders/decoders left
	// outstanding are reclaimed by the GC once the pool itself is
	// dropped. Close anything still sitting idle in the pool.
	for {
		v := cp.encPool.Get()
		if v == nil {
			break
		}
		v.(*zstd.Encoder).Close()
	}
	for {
		v := cp.decPool.Get()
		if v == nil {
			break
		}
		v.(*zstd.Decoder).Close()
	}
}

type regEntry struct {
	key      string
	cp       *CodecPool
	refCount int
}

// Pool is the dictionary registry. The zero value is not usable; use New.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*regEntry
}

// New constructs an empty pool.
func New() *Pool {
	return &Pool{entries: make(map[string]*regEntry)}
}

// Shutdown frees every compiled handle exactly once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	stale := p.entries
	p.entries = make(map[string]*regEntry)
	p.mu.Unlock()

	for _, e := range stale {
		e.cp.close()
	}
}

// RetainForMeta implements spec §4.3's first-installation semantics: a
// newly scanned table calls this once per metadata record. Records that
// share an identity key collapse onto one pool entry; the first caller
// to install a key sets its initial ref count to max(1, prefix count),
// and subsequent callers for the same key are redirected to the shared
// codec pool without bumping the count.
func (p *Pool) RetainForMeta(m Meta) error {
	key := m.IdentityKey()
	if key == "" {
		return fmt.Errorf("dictpool: empty identity key")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		m.BindCodecPool(e.cp)
		return nil
	}

	dictBytes := m.DictBytes()
	if len(dictBytes) == 0 {
		return fmt.Errorf("dictpool: meta %q missing compiled dictionary bytes on first installation", key)
	}
	count := m.PrefixCount()
	if count < 1 {
		count = 1
	}
	cp := newCodecPool(dictBytes, m.Level())
	p.entries[key] = &regEntry{key: key, cp: cp, refCount: count}
	m.BindCodecPool(cp)
	return nil
}

// ReleaseForMeta decrements the entry's reference count, freeing its
// codecs once the count reaches zero. Returns the remaining count, or
// -1 if the key was never installed.
func (p *Pool) ReleaseForMeta(m Meta) int {
	key := m.IdentityKey()

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return -1
	}
	e.refCount--
	remaining := e.refCount
	if remaining <= 0 {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if remaining <= 0 {
		e.cp.close()
	}
	return remaining
}

// RefcountForMeta is a read-only lookup, returning -1 when absent.
func (p *Pool) RefcountForMeta(m Meta) int {
	key := m.IdentityKey()
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.refCount
	}
	return -1
}

// Dump writes a diagnostic listing of every pool entry.
func (p *Pool) Dump(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		fmt.Fprintf(w, "%s\trefs=%d\n", key, e.refCount)
	}
}
