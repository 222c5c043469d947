package resvfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenHostPathExactCaseNeedsNoFallback(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/docs/report.txt", []byte("hi"))

	ref, err := openHostPath(layer, Path("/docs/report.txt"))
	require.NoError(t, err)
	require.NotEqual(t, InvalidFileRef, ref)
}

func TestOpenHostPathFallsBackToOnDiskCasing(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/Docs/Report.txt", []byte("hi"))

	ref, err := openHostPath(layer, Path("/docs/REPORT.TXT"))
	require.NoError(t, err)
	require.NotEqual(t, InvalidFileRef, ref)
}

func TestOpenHostPathStillFailsWhenTrulyMissing(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/Docs/Report.txt", []byte("hi"))

	_, err := openHostPath(layer, Path("/docs/missing.txt"))
	require.Error(t, err)
}

func TestLoadDataCaseInsensitiveHostFallback(t *testing.T) {
	layer := newFakeLayer()
	layer.put("/Assets/Sprite.png", []byte("pixels"))
	m := newTestManager(t, layer)

	id := m.LoadData("/assets/SPRITE.PNG")
	require.NotZero(t, id)
	m.Wait(m.CurrentMark())

	data, ok := m.GetData(id)
	require.True(t, ok)
	require.Equal(t, []byte("pixels"), data)
}
