package checksum

import (
	"crypto/sha512"
	"encoding/hex"
	"hash/adler32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForReader(t *testing.T) {
	data := "The quick brown fox jumps over the lazy dog"

	sums, err := ForReader(strings.NewReader(data))
	require.NoError(t, err)

	expectedSha := sha512.Sum512([]byte(data))
	assert.Equal(t, hex.EncodeToString(expectedSha[:]), sums.SHA512)
	assert.Equal(t, "5bdc0fda", sums.Adler32)
	assert.Equal(t, uint32(0x5bdc0fda), adler32.Checksum([]byte(data)))
}

func TestForFileMatchesForReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	contents := strings.Repeat("icecube", 100_000)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	fromFile, err := ForFile(path)
	require.NoError(t, err)

	fromReader, err := ForReader(strings.NewReader(contents))
	require.NoError(t, err)

	assert.Equal(t, fromReader.SHA512, fromFile.SHA512)
	assert.Equal(t, fromReader.Adler32, fromFile.Adler32)

	shaOnly, err := SHA512ForFile(path)
	require.NoError(t, err)
	assert.Equal(t, fromFile.SHA512, shaOnly)
}

func TestForFileMissing(t *testing.T) {
	_, err := ForFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	_, err = SHA512ForFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestAdler32ZeroPadding(t *testing.T) {
	// Small inputs produce small checksums; the hex form is padded to eight
	// characters because downstream grid tools compare strings.
	sums, err := ForReader(strings.NewReader("a"))
	require.NoError(t, err)
	assert.Len(t, sums.Adler32, 8)
	assert.Equal(t, "00620062", sums.Adler32)
}
