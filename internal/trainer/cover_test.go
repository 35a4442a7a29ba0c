package trainer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func repeatSamples(n int, text string) ([][]byte, []byte, []int) {
	samples := make([][]byte, n)
	var flat bytes.Buffer
	sizes := make([]int, n)
	for i := 0; i < n; i++ {
		samples[i] = []byte(text)
		flat.WriteString(text)
		sizes[i] = len(text)
	}
	return samples, flat.Bytes(), sizes
}

func TestSplitSamplesReconstructsFromFlatAndSizes(t *testing.T) {
	_, flat, sizes := repeatSamples(3, "abcdefgh")
	out := splitSamples(flat, sizes)
	require.Len(t, out, 3)
	for _, s := range out {
		require.Equal(t, "abcdefgh", string(s))
	}
}

func TestTrainCoverPicksMostFrequentKmers(t *testing.T) {
	samples, _, _ := repeatSamples(10, strings.Repeat("aaaaaaaa", 4)+strings.Repeat("bbbbbbbb", 1))
	dict := trainCover(samples, 8, 16)
	require.NotEmpty(t, dict)
	require.LessOrEqual(t, len(dict), 16)
	// "aaaaaaaa" recurs far more often than "bbbbbbbb" across the corpus,
	// so it must appear in the trained dictionary before the budget fills.
	require.Contains(t, string(dict), "aaaaaaaa")
}

func TestTrainCoverEmptyInputsReturnNil(t *testing.T) {
	require.Nil(t, trainCover(nil, 8, 16))
	require.Nil(t, trainCover([][]byte{[]byte("short")}, 0, 16))
	require.Nil(t, trainCover([][]byte{[]byte("short")}, 8, 0))
}

func TestTrainFastProducesNonEmptyDictionary(t *testing.T) {
	_, flat, sizes := repeatSamples(20, strings.Repeat("the quick brown fox ", 8))
	dict, err := TrainFast(flat, sizes, 512)
	require.NoError(t, err)
	require.NotEmpty(t, dict)
	require.LessOrEqual(t, len(dict), 512)
}

func TestTrainFastEmptyCorpusErrors(t *testing.T) {
	_, err := TrainFast(nil, nil, 512)
	require.Error(t, err)
}

func TestTrainOptimizePicksBestRatioAgainstHoldout(t *testing.T) {
	_, flat, sizes := repeatSamples(10, strings.Repeat("payload content for dictionary training ", 6))
	dict, err := TrainOptimize(flat, sizes, 512, 3)
	require.NoError(t, err)
	require.NotEmpty(t, dict)
}

func TestTrainOptimizeFallsBackToFastWithFewerThanTwoSamples(t *testing.T) {
	_, flat, sizes := repeatSamples(1, strings.Repeat("x", 64))
	dict, err := TrainOptimize(flat, sizes, 64, 3)
	require.NoError(t, err)
	require.NotEmpty(t, dict)
}

func TestMeasureRatioEmptySampleReturnsOne(t *testing.T) {
	ratio, err := measureRatio([]byte("dict"), nil, 3)
	require.NoError(t, err)
	require.Equal(t, 1.0, ratio)
}
