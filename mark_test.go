package resvfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextMarkWrapsAtMax(t *testing.T) {
	require.Equal(t, Mark(1), nextMark(maxMark))
	require.Equal(t, Mark(5), nextMark(4))
}

func TestMarkLessOrEqual(t *testing.T) {
	require.True(t, markLessOrEqual(3, 3))
	require.True(t, markLessOrEqual(2, 3))
	require.False(t, markLessOrEqual(4, 3))
}

func TestSyncAndWaitOnZeroMarkReturnImmediately(t *testing.T) {
	m := newTestManager(t, newFakeLayer())
	require.True(t, m.Sync(0))
	m.Wait(0) // must not block
}

func TestSyncOnInvalidManagerReturnsTrue(t *testing.T) {
	m := newTestManager(t, newFakeLayer())
	m.Close()
	require.True(t, m.Sync(1))
}

func TestCurrentMarkAdvancesPastSubmittedLoads(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/a.dat", []byte("hello"))
	m := newTestManager(t, layer)

	before := m.CurrentMark()
	id := m.LoadData("/a.dat")
	require.NotZero(t, id)

	mark := m.CurrentMark()
	require.True(t, mark > before)

	m.Wait(mark)
	require.True(t, m.Sync(mark))
}
