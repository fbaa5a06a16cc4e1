package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReturnsInputLength(t *testing.T) {
	b := New(4)
	n := b.Write([]byte("hello"))
	assert.Equal(t, 5, n)
}

func TestZeroCapacityDiscardsWrites(t *testing.T) {
	b := New(0)
	n := b.Write([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, b.Len())

	out := make([]byte, 4)
	assert.Equal(t, 0, b.ReadAt(0, out))
}

func TestOffsetBeyondLenReadsZero(t *testing.T) {
	b := New(8)
	b.Write([]byte("abc"))
	out := make([]byte, 4)
	assert.Equal(t, 0, b.ReadAt(10, out))
}

func TestReadWithinCapacityBeforeWrap(t *testing.T) {
	b := New(8)
	b.Write([]byte("abc"))

	out := make([]byte, 8)
	n := b.ReadAt(0, out)
	require.Equal(t, 3, n)
	assert.Equal(t, "abc", string(out[:n]))

	n = b.ReadAt(1, out)
	require.Equal(t, 2, n)
	assert.Equal(t, "bc", string(out[:n]))
}

// Exact scenario from the spec: capacity 8, write "hello", then "!", then
// "world!"; the valid range is the final 8 bytes in logical order.
func TestWrapAroundScenario(t *testing.T) {
	b := New(8)
	b.Write([]byte("hello"))
	b.Write([]byte("!"))
	b.Write([]byte("world!"))

	require.EqualValues(t, 12, b.Len())

	out := make([]byte, 8)
	n := b.ReadAt(4, out)
	require.Equal(t, 8, n)
	assert.Equal(t, "o!world!", string(out[:n]))

	// Reading the whole [0, 12) range clamps to the valid [4, 12) window.
	out = make([]byte, 12)
	n = b.ReadAt(0, out)
	assert.Equal(t, 8, n)
	assert.Equal(t, "o!world!", string(out[:n]))
}

func TestWriteLargerThanCapacityRetainsTail(t *testing.T) {
	b := New(4)
	n := b.Write([]byte("abcdefgh"))
	assert.Equal(t, 8, n)
	assert.EqualValues(t, 8, b.Len())

	out := make([]byte, 4)
	got := b.ReadAt(4, out)
	require.Equal(t, 4, got)
	assert.Equal(t, "efgh", string(out[:got]))
}

func TestResizePreservesTailAsPrefix(t *testing.T) {
	b := New(8)
	b.Write([]byte("hello"))
	b.Write([]byte("!"))
	b.Write([]byte("world!"))

	b.Resize(4)
	assert.EqualValues(t, 4, b.Len())

	out := make([]byte, 4)
	n := b.ReadAt(0, out)
	require.Equal(t, 4, n)
	assert.Equal(t, "rld!", string(out[:n]))
}

func TestResizeGrowingKeepsExistingContent(t *testing.T) {
	b := New(4)
	b.Write([]byte("abcd"))
	b.Resize(8)

	assert.EqualValues(t, 4, b.Len())
	out := make([]byte, 8)
	n := b.ReadAt(0, out)
	require.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(out[:n]))
}

func TestResizeToZero(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdefgh"))
	b.Resize(0)
	assert.EqualValues(t, 0, b.Len())

	out := make([]byte, 4)
	assert.Equal(t, 0, b.ReadAt(0, out))
}

func TestValidRangeFormula(t *testing.T) {
	b := New(4)
	for _, chunk := range []string{"a", "bb", "ccc", "dddd", "e"} {
		b.Write([]byte(chunk))
	}
	total := b.Len()
	capacity := uint64(b.Cap())
	wantStart := uint64(0)
	if total > capacity {
		wantStart = total - capacity
	}

	out := make([]byte, 1)
	// One byte before the valid range reads nothing; the first valid byte
	// reads exactly one byte.
	if wantStart > 0 {
		assert.Equal(t, 0, b.ReadAt(wantStart-1, out))
	}
	assert.Equal(t, 1, b.ReadAt(wantStart, out))
}
