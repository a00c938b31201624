package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultchain/pkg/vaulterr"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

// assertSignatureCoverage checks property 4: signatures.keys() == file_set
// == dir_state.keys() for a freshly opened vault.
func assertSignatureCoverage(t *testing.T, r *Reader) {
	t.Helper()
	fileSet := r.FileSet()
	sigs := r.Signatures()
	state := r.DirState()
	require.Len(t, sigs, len(fileSet))
	require.Len(t, state, len(fileSet))
	for k := range fileSet {
		_, ok := sigs[k]
		require.Truef(t, ok, "signature missing for %s", k)
		_, ok = state[k]
		require.Truef(t, ok, "dir state missing for %s", k)
	}
}

func TestFullVaultRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello", "b.txt": "world"})

	vaultDir := t.TempDir()
	vaultPath, err := CreateVault(vaultDir, src, "pw", nil)
	require.NoError(t, err)

	r, err := OpenVault(vaultPath, "pw")
	require.NoError(t, err)
	require.Equal(t, Full, r.Kind())
	assertSignatureCoverage(t, r)
	require.NoError(t, r.Close())

	out := t.TempDir()
	require.NoError(t, ExpandVault(vaultDir, filepath.Base(vaultPath), "pw", out, nil))
	require.Equal(t, map[string]string{"a.txt": "hello", "b.txt": "world"}, readTree(t, out))
}

func TestIncrementalChainRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello", "b.txt": "world"})

	vaultDir := t.TempDir()
	v0Path, err := CreateVault(vaultDir, src, "pw", nil)
	require.NoError(t, err)

	writeTree(t, src, map[string]string{"a.txt": "HELLO", "c.txt": "new"})
	require.NoError(t, os.Remove(filepath.Join(src, "b.txt")))

	v1Path, err := IncrementVault(vaultDir, filepath.Base(v0Path), "pw", src, nil)
	require.NoError(t, err)

	outV1 := t.TempDir()
	require.NoError(t, ExpandVault(vaultDir, filepath.Base(v1Path), "pw", outV1, nil))
	require.Equal(t, map[string]string{"a.txt": "HELLO", "c.txt": "new"}, readTree(t, outV1))

	outV0 := t.TempDir()
	require.NoError(t, ExpandVault(vaultDir, filepath.Base(v0Path), "pw", outV0, nil))
	require.Equal(t, map[string]string{"a.txt": "hello", "b.txt": "world"}, readTree(t, outV0))
}

func TestChainIntegrityDetectsCorruption(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	vaultDir := t.TempDir()
	v0Path, err := CreateVault(vaultDir, src, "pw", nil)
	require.NoError(t, err)

	writeTree(t, src, map[string]string{"a.txt": "HELLO"})
	v1Path, err := IncrementVault(vaultDir, filepath.Base(v0Path), "pw", src, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(v0Path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	require.NoError(t, os.WriteFile(v0Path, raw, 0o600))

	out := t.TempDir()
	err = ExpandVault(vaultDir, filepath.Base(v1Path), "pw", out, nil)
	require.Error(t, err)
	isExpected := errors.Is(err, vaulterr.ErrHashMismatch) ||
		errors.Is(err, vaulterr.ErrDecryptionFailure) ||
		errors.Is(err, vaulterr.ErrMalformedVault)
	require.True(t, isExpected, "unexpected error: %v", err)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Empty(t, entries, "no partial output should be written on failure")
}

func TestExpandVaultRejectsNonEmptyOutput(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	vaultDir := t.TempDir()
	v0Path, err := CreateVault(vaultDir, src, "pw", nil)
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "preexisting.txt"), []byte("x"), 0o600))

	err = ExpandVault(vaultDir, filepath.Base(v0Path), "pw", out, nil)
	require.ErrorIs(t, err, vaulterr.ErrOutputNotEmpty)
}

func TestWriterDeleteIsIdempotent(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	w, err := NewWriter(t.TempDir(), src, "pw", nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Create("a.txt"))
	require.NoError(t, w.Delete("a.txt"))
	require.NoError(t, w.Delete("a.txt")) // second delete of an absent key is a no-op
	_, ok := w.fileSet["a.txt"]
	require.False(t, ok)
}

func TestUpdateWithoutPredecessorSignatureFails(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	w, err := NewWriter(t.TempDir(), src, "pw", nil, nil)
	require.NoError(t, err)
	err = w.Update("a.txt")
	require.ErrorIs(t, err, vaulterr.ErrNoPredecessorSignature)
}

func TestDeltaMinimalityAcrossIncrement(t *testing.T) {
	src := t.TempDir()
	big := make([]byte, 1<<20) // 1 MiB of zeros, enough to show scaling without a slow test
	writeTree(t, src, map[string]string{"big.bin": string(big)})

	vaultDir := t.TempDir()
	v0Path, err := CreateVault(vaultDir, src, "pw", nil)
	require.NoError(t, err)

	mutated := append([]byte(nil), big...)
	mutated[1<<19] = 0xAB
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), mutated, 0o600))

	v1Path, err := IncrementVault(vaultDir, filepath.Base(v0Path), "pw", src, nil)
	require.NoError(t, err)

	info, err := os.Stat(v1Path)
	require.NoError(t, err)
	require.Less(t, info.Size(), int64(64*1024))
}
