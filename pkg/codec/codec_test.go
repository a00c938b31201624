package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultchain/pkg/vaulterr"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	compressed, err := Compress(bytes.NewReader(original), DefaultCompressionLevel)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(original))

	decompressed, err := Decompress(bytes.NewReader(compressed))
	require.NoError(t, err)
	require.Equal(t, original, decompressed)
}

func TestCompressEmptyInput(t *testing.T) {
	compressed, err := Compress(bytes.NewReader(nil), 0)
	require.NoError(t, err)

	decompressed, err := Decompress(bytes.NewReader(compressed))
	require.NoError(t, err)
	require.Empty(t, decompressed)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("the contents of a vault member")
	blob, err := Encrypt(plaintext, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, byte(AlgoChaCha20Poly1305), blob[0])

	out, err := Decrypt(blob, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), "right-passphrase")
	require.NoError(t, err)

	_, err = Decrypt(blob, "wrong-passphrase")
	require.ErrorIs(t, err, vaulterr.ErrDecryptionFailure)
}

func TestLegacyCAST5ReadCompatibility(t *testing.T) {
	plaintext := []byte("legacy-encrypted member bytes")
	blob, err := EncryptCAST5Legacy(plaintext, "legacy-pass")
	require.NoError(t, err)
	require.Equal(t, byte(AlgoCAST5), blob[0])

	out, err := Decrypt(blob, "legacy-pass")
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestArchiveWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewArchiveWriter(&buf)
	require.NoError(t, w.WriteMember("backup/metadata.json.gpg", []byte("meta")))
	require.NoError(t, w.WriteMember("backup/list.json.gpg", []byte("list")))
	require.NoError(t, w.Close())

	members, err := ReadAllMembers(&buf)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "backup/metadata.json.gpg", members[0].Name)
	require.Equal(t, "backup/list.json.gpg", members[1].Name)

	contents, err := FindMember(members, "backup/list.json.gpg")
	require.NoError(t, err)
	require.Equal(t, "list", string(contents))

	_, err = FindMember(members, "backup/missing.json.gpg")
	require.ErrorIs(t, err, vaulterr.ErrMissingEntry)
}
