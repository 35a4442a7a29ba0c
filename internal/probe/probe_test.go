package probe

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsLikelyIncompressibleKnownMagic(t *testing.T) {
	gzipHeader := []byte{0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}
	require.True(t, IsLikelyIncompressible(gzipHeader))

	png := append([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 32)...)
	require.True(t, IsLikelyIncompressible(png))
}

func TestIsLikelyIncompressibleHighEntropyRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	buf := make([]byte, 4096)
	r.Read(buf)
	require.True(t, IsLikelyIncompressible(buf))
}

func TestIsLikelyIncompressibleTextIsCompressible(t *testing.T) {
	text := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 100))
	require.False(t, IsLikelyIncompressible(text))
}

func TestIsLikelyIncompressibleEmpty(t *testing.T) {
	require.False(t, IsLikelyIncompressible(nil))
}
