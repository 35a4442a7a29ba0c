package trainer

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// splitSamples turns a reservoir snapshot's flat buffer back into
// individual sample slices using the parallel sizes array.
func splitSamples(flat []byte, sizes []int) [][]byte {
	out := make([][]byte, 0, len(sizes))
	off := 0
	for _, sz := range sizes {
		out = append(out, flat[off:off+sz])
		off += sz
	}
	return out
}

// trainCover is the from-scratch substring-frequency "cover" trainer
// described in SPEC_FULL.md §4: score every non-overlapping k-mer
// across the corpus by how often it recurs, then concatenate the
// highest-scoring distinct k-mers up to targetSize. This approximates
// what ZDICT_trainFromBuffer's cover algorithm does (reward substrings
// that recur across many samples) without binding zstd's cgo-only
// ZDICT_* C API.
func trainCover(samples [][]byte, kmerLen, targetSize int) []byte {
	if kmerLen <= 0 || targetSize <= 0 {
		return nil
	}
	freq := make(map[string]int)
	for _, s := range samples {
		for i := 0; i+kmerLen <= len(s); i += kmerLen {
			freq[string(s[i:i+kmerLen])]++
		}
	}
	if len(freq) == 0 {
		return nil
	}

	type scored struct {
		kmer  string
		score int
	}
	list := make([]scored, 0, len(freq))
	for k, v := range freq {
		list = append(list, scored{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].kmer < list[j].kmer // deterministic tie-break
	})

	var buf bytes.Buffer
	for _, sc := range list {
		if buf.Len() >= targetSize {
			break
		}
		buf.WriteString(sc.kmer)
	}
	out := buf.Bytes()
	if len(out) > targetSize {
		out = out[:targetSize]
	}
	return out
}

// TrainFast implements spec §4.8 step 8's FAST mode: a single-shot
// cover pass at a fixed k-mer length.
func TrainFast(flat []byte, sizes []int, targetSize int) ([]byte, error) {
	samples := splitSamples(flat, sizes)
	if len(samples) == 0 {
		return nil, fmt.Errorf("trainer: empty training corpus")
	}
	const fastKmerLen = 16
	dict := trainCover(samples, fastKmerLen, targetSize)
	if len(dict) == 0 {
		return nil, fmt.Errorf("trainer: cover trainer produced no candidate")
	}
	return dict, nil
}

// candidateKmerLens is the small parameter grid OPTIMIZE mode searches,
// standing in for ZDICT_optimizeTrainFromBuffer_cover's k/d sweep.
var candidateKmerLens = []int{8, 16, 32, 64}

// TrainOptimize implements spec §4.8 step 8's OPTIMIZE mode: search
// candidateKmerLens, measure each candidate's compression ratio against
// a held-out slice of the corpus (the last sample, matching the "default
// split point" spec calls for), and keep the best. Runs single-threaded,
// matching spec's "single thread" requirement.
func TrainOptimize(flat []byte, sizes []int, targetSize, zstdLevel int) ([]byte, error) {
	samples := splitSamples(flat, sizes)
	if len(samples) < 2 {
		return TrainFast(flat, sizes, targetSize)
	}

	holdout := samples[len(samples)-1]
	trainSamples := samples[:len(samples)-1]

	var best []byte
	bestRatio := -1.0
	for _, kl := range candidateKmerLens {
		cand := trainCover(trainSamples, kl, targetSize)
		if len(cand) == 0 {
			continue
		}
		ratio, err := measureRatio(cand, holdout, zstdLevel)
		if err != nil {
			continue
		}
		if best == nil || ratio < bestRatio {
			bestRatio = ratio
			best = cand
		}
	}
	if best == nil {
		return TrainFast(flat, sizes, targetSize)
	}
	return best, nil
}

// measureRatio compiles a throwaway encoder bound to candidate and
// reports compressed/original for sample.
func measureRatio(candidate, sample []byte, level int) (float64, error) {
	if len(sample) == 0 {
		return 1, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderDictRaw(0, candidate),
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return 0, err
	}
	defer enc.Close()
	out := enc.EncodeAll(sample, nil)
	return float64(len(out)) / float64(len(sample)), nil
}
