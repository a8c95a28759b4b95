package hashutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherSHA256 = "315f5bdb76d078c43b8ac0064e4a0164612b1fce77c869345bfc94c75894edd3"

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseDigest(t *testing.T) {
	d, err := ParseDigest("sha256:" + otherSHA256)
	require.NoError(t, err)
	assert.Equal(t, SHA256, d.Algorithm)
	assert.Equal(t, otherSHA256, d.Hex)

	d, err = ParseDigest(strings.ToUpper(otherSHA256))
	require.NoError(t, err)
	assert.Equal(t, SHA256, d.Algorithm, "64 hex chars infer sha256")

	d, err = ParseDigest(strings.Repeat("a", 40))
	require.NoError(t, err)
	assert.Equal(t, SHA1, d.Algorithm)

	_, err = ParseDigest("md5:" + strings.Repeat("a", 32))
	assert.Error(t, err)

	_, err = ParseDigest("sha256:abc")
	assert.Error(t, err)

	_, err = ParseDigest("sha1:" + strings.Repeat("z", 40))
	assert.Error(t, err)

	_, err = ParseDigest("1234")
	assert.Error(t, err)
}

func TestCalculateFileChecksum(t *testing.T) {
	path := writeTemp(t, "Hello, World!")

	checksum, err := CalculateFileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f", checksum)

	_, err = CalculateFileChecksum("/non/existent/file")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	path := writeTemp(t, "Hello, World!")

	expected, err := ParseDigest("sha256:dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f")
	require.NoError(t, err)
	ok, actual, err := Verify(path, expected)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, expected, actual)

	wrong, err := ParseDigest("sha256:" + otherSHA256)
	require.NoError(t, err)
	ok, actual, err = Verify(path, wrong)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEqual(t, wrong.Hex, actual.Hex)
}
