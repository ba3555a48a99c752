package link

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPayloadCRCSpanSplitIsAssociative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(rt, "data")
		split := rapid.IntRange(0, len(data)).Draw(rt, "split")

		whole := payloadCRC(data, nil)
		spanned := payloadCRC(data[:split], data[split:])

		require.Equal(rt, whole, spanned, "splitting the payload across a ring wrap must not change the checksum")
	})
}

func TestPayloadCRCIsSensitiveToEveryByte(t *testing.T) {
	data := []byte("a small uucp packet payload")
	base := payloadCRC(data, nil)

	for i := range data {
		corrupted := append([]byte(nil), data...)
		corrupted[i] ^= 0xFF
		require.NotEqual(t, base, payloadCRC(corrupted, nil), "byte %d flip went undetected", i)
	}
}

func TestCrcUpdateNoFinalXOR(t *testing.T) {
	// A manual two-step accumulation must equal accumulating the
	// concatenation in one call, with no complement applied anywhere:
	// the result is the register the stdlib checksum complements on
	// its way out.
	a := []byte{1, 2, 3}
	b := []byte{4, 5, 6}
	step := crcUpdate(crcUpdate(crcInit, a), b)
	whole := crcUpdate(crcInit, append(append([]byte(nil), a...), b...))
	require.Equal(t, whole, step)
	require.Equal(t, ^crc32.ChecksumIEEE(append(append([]byte(nil), a...), b...)), whole)
}
