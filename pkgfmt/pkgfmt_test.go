package pkgfmt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildArchive assembles a minimal valid PKG archive containing the given
// name/content pairs, computing offsets and the path hash the same way a
// real packer would.
func buildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	type built struct {
		name       string
		nameOffset uint32
		hash       uint32
		content    []byte
	}
	entries := make([]built, 0, len(names))
	var namePool bytes.Buffer
	for _, name := range names {
		off := uint32(namePool.Len())
		namePool.WriteString(name)
		namePool.WriteByte(0)
		entries = append(entries, built{name: name, nameOffset: off, hash: Hash(name), content: files[name]})
	}

	// Sort entries by (hash, lowercased name), matching Parse's requirement.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			less := a.hash < b.hash || (a.hash == b.hash && string(lowerASCII(a.name)) <= string(lowerASCII(b.name)))
			if less {
				break
			}
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}

	headerTotal := 16 + len(entries)*entrySize
	dataStart := headerTotal + namePool.Len()

	var out bytes.Buffer
	out.Write(Magic[:])
	var fixed [12]byte
	binary.BigEndian.PutUint16(fixed[0:2], uint16(16))
	binary.BigEndian.PutUint16(fixed[2:4], uint16(entrySize))
	binary.BigEndian.PutUint32(fixed[4:8], uint32(len(entries)))
	binary.BigEndian.PutUint32(fixed[8:12], uint32(namePool.Len()))
	out.Write(fixed[:])

	dataOffset := dataStart
	for _, e := range entries {
		var raw [entrySize]byte
		binary.BigEndian.PutUint32(raw[0:4], e.hash)
		binary.BigEndian.PutUint32(raw[4:8], e.nameOffset) // uncompressed: flag bit stays 0
		binary.BigEndian.PutUint32(raw[8:12], uint32(dataOffset))
		binary.BigEndian.PutUint32(raw[12:16], uint32(len(e.content)))
		binary.BigEndian.PutUint32(raw[16:20], uint32(len(e.content)))
		out.Write(raw[:])
		dataOffset += len(e.content)
	}

	out.Write(namePool.Bytes())
	for _, e := range entries {
		out.Write(e.content)
	}

	return out.Bytes()
}

func TestParseAndLookup(t *testing.T) {
	raw := buildArchive(t, map[string][]byte{
		"a.txt":     []byte("hello"),
		"dir/b.bin": []byte("world!"),
		"DIR/C.dat": []byte("mixed case path"),
	})

	archive, err := Parse(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	entry, ok := archive.Lookup("a.txt")
	require.True(t, ok)
	require.Equal(t, uint32(5), entry.DataLength)

	// Case-insensitive lookup.
	entry, ok = archive.Lookup("A.TXT")
	require.True(t, ok)
	require.Equal(t, uint32(5), entry.DataLength)

	entry, ok = archive.Lookup("dir/B.BIN")
	require.True(t, ok)
	require.Equal(t, uint32(6), entry.DataLength)

	_, ok = archive.Lookup("missing")
	require.False(t, ok)

	require.Len(t, archive.Files(), 3)
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw := buildArchive(t, map[string][]byte{"a": []byte("x")})
	raw[0] = 'X'

	_, err := Parse(bytes.NewReader(raw), int64(len(raw)))
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestParseRejectsTruncatedArchive(t *testing.T) {
	content := []byte("hello world")
	raw := buildArchive(t, map[string][]byte{"a": content})

	// total (header+index+name pool) excludes file content, so claiming a
	// size even one byte short of that must be rejected regardless of how
	// much content data actually follows.
	total := int64(len(raw) - len(content))
	_, err := Parse(bytes.NewReader(raw), total-1)
	require.Error(t, err)
}

func TestHashIsCaseInsensitive(t *testing.T) {
	require.Equal(t, Hash("Some/Path.Png"), Hash("some/path.png"))
	require.NotEqual(t, Hash("a"), Hash("b"))
}
