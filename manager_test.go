package resvfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, layer FileLayer) *Manager {
	t.Helper()
	m := NewManager(4, layer, nil, DefaultConfig())
	t.Cleanup(m.Close)
	return m
}

func TestCreateDataAndGet(t *testing.T) {
	m := newTestManager(t, nil)

	id := m.CreateData([]byte("hello"))
	require.NotZero(t, id)

	data, ok := m.GetData(id)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
}

func TestCopyDataIsIndependent(t *testing.T) {
	m := newTestManager(t, nil)

	src := []byte("abc")
	id := m.CopyData(src)
	src[0] = 'z'

	data, ok := m.GetData(id)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), data)
}

func TestLoadDataReachesReady(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/data.bin", []byte("payload"))
	m := newTestManager(t, layer)

	id := m.LoadData("/data.bin")
	require.NotZero(t, id)

	mark := m.CurrentMark()
	m.Wait(mark)

	data, ok := m.GetData(id)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data)
}

func TestLoadDataMissingFileFails(t *testing.T) {
	layer := newFakeLayer()
	m := newTestManager(t, layer)

	id := m.LoadData("/missing.bin")
	require.Zero(t, id)
}

func TestLoadTextureDecodeFailureNeverReady(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/tex.bin", []byte("raw"))
	m := newTestManager(t, layer)

	decode := func(raw []byte) (uintptr, error) {
		return 0, &DecodeError{Message: "bad texture"}
	}
	id := m.LoadTexture("/tex.bin", decode)
	m.Wait(m.CurrentMark())

	_, ok := m.GetTexture(id)
	require.False(t, ok)
}

func TestLinkPromotesAnchorOnFree(t *testing.T) {
	m := newTestManager(t, nil)

	anchor := m.CreateData([]byte("owned"))
	link := m.Link(m, anchor)
	require.NotZero(t, link)

	m.Free(anchor)

	data, ok := m.GetData(link)
	require.True(t, ok)
	require.Equal(t, []byte("owned"), data)
}

func TestWeakLinkGoesStaleWhenLastStrongFreed(t *testing.T) {
	m := newTestManager(t, nil)

	anchor := m.CreateData([]byte("owned"))
	weak := m.LinkWeak(m, anchor)
	require.False(t, m.IsStale(weak))

	m.Free(anchor)

	require.True(t, m.IsStale(weak))
	_, ok := m.GetData(weak)
	require.False(t, ok)
}

func TestFreeCancelsInFlightLoad(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/big.bin", make([]byte, 1024))
	m := newTestManager(t, layer)

	id := m.LoadData("/big.bin")
	require.NotZero(t, id)

	m.Free(id)
	m.Wait(m.CurrentMark())

	_, ok := m.GetData(id)
	require.False(t, ok)
}

func TestCloseInvalidatesManager(t *testing.T) {
	m := NewManager(2, nil, nil, DefaultConfig())
	id := m.CreateData([]byte("x"))
	require.NotZero(t, id)

	m.Close()

	require.Zero(t, m.CreateData([]byte("y")))
	_, ok := m.GetData(id)
	require.False(t, ok)
	require.False(t, m.IsStale(id))
	m.Free(id) // must not panic on an invalidated manager
}

func TestStatsReflectsUsage(t *testing.T) {
	m := newTestManager(t, nil)

	a := m.CreateData([]byte("a"))
	m.NewTexture(42)
	m.Free(a)

	st := m.Stats()
	require.Equal(t, 1, st.ByKind["Texture"])
	require.Equal(t, 0, st.ByKind["Data"])
	require.GreaterOrEqual(t, st.Free, 1)
}

func TestOpenFileReadAndSeek(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/doc.txt", []byte("0123456789"))
	m := newTestManager(t, layer)

	id := m.OpenFile("/doc.txt")
	require.NotZero(t, id)

	buf := make([]byte, 4)
	n, err := m.ReadFile(id, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("0123"), buf)

	pos := m.SeekFile(id, 100)
	require.Equal(t, int64(10), pos)

	n, err = m.ReadFile(id, buf)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFreeAllLeavesNoPendingLoadAfterFailure(t *testing.T) {
	layer := newFakeLayer()
	for _, name := range []string{"/broken-1.bin", "/broken-2.bin", "/broken-3.bin"} {
		layer.put(name, make([]byte, 16))
		layer.failReadsFor(name, &IOError{Path: Path(name), Cause: errors.New("disk error")})
	}
	m := newTestManager(t, layer)

	ids := make([]ResourceID, 0, 3)
	ids = append(ids, m.LoadData("/broken-1.bin"))
	ids = append(ids, m.LoadData("/broken-2.bin"))
	ids = append(ids, m.LoadData("/broken-3.bin"))
	for _, id := range ids {
		require.NotZero(t, id)
	}

	m.Wait(m.CurrentMark())
	for _, id := range ids {
		_, ok := m.GetData(id)
		require.False(t, ok)
	}

	m.FreeAll()

	require.Zero(t, m.Stats().PendingLoads)
	require.Zero(t, m.Stats().Used)
}
