package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/storage"
)

func TestWindowFillsInOrder(t *testing.T) {
	w := storage.NewWindow[int](5)
	require.Empty(t, w.All())

	for i := 1; i <= 3; i++ {
		w.Push(i)
	}
	require.Equal(t, 3, w.Len())
	require.Equal(t, []int{1, 2, 3}, w.All())
}

func TestWindowEvictsOldest(t *testing.T) {
	w := storage.NewWindow[int](5)
	for i := 1; i <= 23; i++ {
		w.Push(i)
		require.LessOrEqual(t, w.Len(), 5)
	}
	require.Equal(t, 5, w.Len())
	require.Equal(t, []int{19, 20, 21, 22, 23}, w.All())
}

func TestWindowRecent(t *testing.T) {
	w := storage.NewWindow[int](4)
	for i := 1; i <= 6; i++ {
		w.Push(i)
	}
	require.Equal(t, []int{5, 6}, w.Recent(2))
	require.Equal(t, []int{3, 4, 5, 6}, w.Recent(10))
	require.Equal(t, []int{3, 4, 5, 6}, w.Recent(0))
	require.Equal(t, []int{3, 4, 5, 6}, w.Recent(-1))
}

func TestWindowCopies(t *testing.T) {
	w := storage.NewWindow[int](2)
	w.Push(1)
	out := w.All()
	out[0] = 99
	require.Equal(t, []int{1}, w.All())
}

func TestWindowMinimumCapacity(t *testing.T) {
	w := storage.NewWindow[string](0)
	require.Equal(t, 1, w.Cap())
	w.Push("a")
	w.Push("b")
	require.Equal(t, []string{"b"}, w.All())
}
