package link

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingWriteReadWrap(t *testing.T) {
	r := newRing(8) // 7 usable bytes after the reserved slot

	first, second := r.FreeSpans()
	require.Equal(t, 7, len(first)+len(second))
	n := copy(first, []byte("hello"))
	r.Advance(n)
	require.Equal(t, 5, r.Len())

	out := make([]byte, 5)
	r.CopyOut(out, 0, 5)
	require.Equal(t, "hello", string(out))
	r.Discard(5)
	require.Equal(t, 0, r.Len())

	// Now force a wrap: end is near capacity, start has caught up.
	first, second = r.FreeSpans()
	n = copy(first, []byte("wrapworld")[:min(len(first), 9)])
	r.Advance(n)
	if n < 9 && len(second) > 0 {
		rest := copy(second, []byte("wrapworld")[n:])
		r.Advance(rest)
	}
	require.True(t, r.Len() > 0)
}

func TestRingFreeReservesOneSlot(t *testing.T) {
	r := newRing(4)
	require.Equal(t, 3, r.Free())
}

func TestRingOccupiedSpansContiguousAfterWrap(t *testing.T) {
	r := newRing(6)
	first, _ := r.FreeSpans()
	r.Advance(copy(first, []byte{1, 2, 3, 4}))
	r.Discard(3)
	// end=4, start=3: free spans wrap, occupied is a single span [3,4).
	occ, occ2 := r.OccupiedSpans()
	require.Equal(t, 1, len(occ))
	require.Nil(t, occ2)
}
