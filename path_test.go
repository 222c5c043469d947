package resvfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathNormalize(t *testing.T) {
	require.Equal(t, "/a/b/c", Path("a//b/c/").Normalize().String())
	require.Equal(t, "/", Path("").Normalize().String())
	require.Equal(t, "/a", Path("  /a  ").Normalize().String())
}

func TestPathNameAndParent(t *testing.T) {
	p := Path("/a/b/c")
	require.Equal(t, "c", p.Name())
	require.Equal(t, Path("/a/b"), p.Parent())
	require.Equal(t, "", Path("/").Name())
}

func TestPathEqualFoldAndPrefix(t *testing.T) {
	require.True(t, Path("/Textures/Foo.PNG").EqualFold(Path("/textures/foo.png")))
	require.True(t, Path("/a/b/c").HasPrefixFold(Path("/A/B")))
	require.False(t, Path("/ab/c").HasPrefixFold(Path("/a")))
	require.False(t, Path("/a").HasPrefixFold(Path("/a/b")))
}

func TestPathTrimPrefixFold(t *testing.T) {
	require.Equal(t, Path("/c.txt"), Path("/Pkg/Sub/c.txt").TrimPrefixFold(Path("/pkg/sub")))
	require.Equal(t, Path("/a/b"), Path("/a/b").TrimPrefixFold(Path("/nomatch")))
}

func TestConcatPaths(t *testing.T) {
	require.Equal(t, Path("/a/b/c"), ConcatPaths(Path("/a"), Path("b"), Path("/c")))
}

func TestResolvePathHostPrefix(t *testing.T) {
	r, err := ResolvePath(nil, "", "host:/some/file.bin")
	require.NoError(t, err)
	require.Nil(t, r.Module)
	require.Equal(t, Path("/some/file.bin"), r.HostPath)
}

func TestResolvePathRejectsEmptyAndOversized(t *testing.T) {
	_, err := ResolvePath(nil, "", "")
	require.Error(t, err)

	huge := make([]byte, MaxPathLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err = ResolvePath(nil, "", string(huge))
	require.Error(t, err)
	var bo *BufferOverflowError
	require.ErrorAs(t, err, &bo)
}

func TestResolvePathStripsResourcePrefixAndRoutes(t *testing.T) {
	reg := NewPackageRegistry()
	mod := &stubModule{}
	require.NoError(t, reg.Register(Path("/assets/textures"), mod))

	r, err := ResolvePath(reg, Path("/res"), "/res/assets/textures/foo.png")
	require.NoError(t, err)
	require.Equal(t, mod, r.Module)
	require.Equal(t, Path("/foo.png"), r.IntraPath)
}

func TestResolvePathFallsThroughToHost(t *testing.T) {
	reg := NewPackageRegistry()
	r, err := ResolvePath(reg, "", "/no/such/prefix/file.bin")
	require.NoError(t, err)
	require.Nil(t, r.Module)
	require.Equal(t, Path("/no/such/prefix/file.bin"), r.HostPath)
}

// stubModule is a minimal PackageModule for registry/path routing tests that
// don't need real file content.
type stubModule struct{}

func (stubModule) Init() error    { return nil }
func (stubModule) Cleanup() error { return nil }
func (stubModule) FileInfo(Path) (int64, bool, bool) {
	return 0, false, false
}
func (stubModule) ListFiles() []Path { return nil }
func (stubModule) OpenReader(Path) (FileRef, int64, int64, error) {
	return InvalidFileRef, 0, 0, &NotFoundError{}
}
func (stubModule) Decompressor(Path) string { return "" }
