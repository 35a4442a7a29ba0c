package engine

import (
	"context"

	"github.com/klauspost/compress/zstd"

	"github.com/minio/cachecomp/internal/routing"
	"github.com/minio/cachecomp/internal/tracing"
)

// Encode implements spec §4.7 "encode(key, value) → (out_bytes, dict_id)".
//
// A raw result is signaled by returning (nil, RawDictID, nil); per the
// stored-value wire format (spec §6) the caller stores value unchanged
// in that case and never writes a codec frame for it.
func (e *Engine) Encode(key string, value []byte) (out []byte, dictID uint16, err error) {
	_, span := tracing.StartSpan(context.Background(), tracing.GetTracer("engine"), tracing.SpanEncode)
	defer span.End()

	if !e.cfg.EnableComp || len(value) < e.cfg.MinCompSize || (e.cfg.MaxCompSize > 0 && len(value) > e.cfg.MaxCompSize) {
		if !e.cfg.EnableComp {
			e.stats.Global().SkipDisabled.Add(1)
		} else if len(value) < e.cfg.MinCompSize {
			e.stats.Global().SkipMinSize.Add(1)
		} else {
			e.stats.Global().SkipMaxSize.Add(1)
		}
		return nil, RawDictID, nil
	}

	tab := e.table.Load()

	var meta *routing.Meta
	if tab != nil && e.cfg.EnableDict {
		meta = tab.PickByKey(key)
	}

	var (
		enc *zstd.Encoder
		did uint16
	)
	if meta != nil {
		if c := meta.BorrowEncoder(); c != nil {
			enc = c
			did = meta.ID
			defer meta.ReturnEncoder(enc)
		}
	}
	if enc == nil {
		enc = e.borrowPlainEncoder()
		did = NoDictID
		defer e.returnPlainEncoder(enc)
	}

	compressed := enc.EncodeAll(value, make([]byte, 0, len(value)))

	if len(compressed) >= len(value) {
		e.stats.Global().SkipIncompressible.Add(1)
		return nil, RawDictID, nil
	}

	var ns string
	if tab != nil {
		ns = tab.ResolveNamespace(key)
	} else {
		ns = "default"
	}
	if ns == "default" {
		e.tracker.OnObservation(int64(len(value)), int64(len(compressed)))
	}

	rec := e.stats.ForNamespace(ns)
	rec.BytesRaw.Add(int64(len(value)))
	rec.BytesCompressed.Add(int64(len(compressed)))
	rec.WriteOps.Add(1)
	e.stats.Global().BytesRaw.Add(int64(len(value)))
	e.stats.Global().BytesCompressed.Add(int64(len(compressed)))
	e.stats.Global().WriteOps.Add(1)

	e.mu.Lock()
	hook := e.sampleHook
	e.mu.Unlock()
	if hook != nil {
		hook(key, value)
	}

	return compressed, did, nil
}

func (e *Engine) borrowPlainEncoder() *zstd.Encoder {
	v := e.plainEnc.Get()
	if v == nil {
		return nil
	}
	return v.(*zstd.Encoder)
}

func (e *Engine) returnPlainEncoder(enc *zstd.Encoder) {
	if enc != nil {
		e.plainEnc.Put(enc)
	}
}
