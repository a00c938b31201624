package deltasig

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultchain/pkg/vaulterr"
)

func TestSignatureDeltaPatchRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
	}{
		{"identical", "hello world, this is a test", "hello world, this is a test"},
		{"small edit", "hello world, this is a test", "hello WORLD, this is a test"},
		{"append", "hello world", "hello world and then some more"},
		{"truncate", "hello world and then some more", "hello world"},
		{"empty old", "", "brand new content"},
		{"empty new", "brand new content", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sigBytes, err := Compute(strings.NewReader(tc.old), DefaultBlockSize)
			require.NoError(t, err)

			sig, err := ParseSignature(sigBytes)
			require.NoError(t, err)

			delta, err := Delta([]byte(tc.new), sig)
			require.NoError(t, err)

			var out bytes.Buffer
			err = Patch([]byte(tc.old), delta, &out)
			require.NoError(t, err)
			require.Equal(t, tc.new, out.String())
		})
	}
}

func TestDeltaMinimality(t *testing.T) {
	const size = 10 * 1024 * 1024
	original := make([]byte, size)

	sigBytes, err := Compute(bytes.NewReader(original), DefaultBlockSize)
	require.NoError(t, err)
	sig, err := ParseSignature(sigBytes)
	require.NoError(t, err)

	mutated := append([]byte(nil), original...)
	offset := 5 * 1024 * 1024
	copy(mutated[offset:offset+4], []byte{0xde, 0xad, 0xbe, 0xef})

	delta, err := Delta(mutated, sig)
	require.NoError(t, err)
	require.Less(t, len(delta), 64*1024, "delta for a 4-byte change should stay well under 64KiB")

	var out bytes.Buffer
	require.NoError(t, Patch(original, delta, &out))
	require.Equal(t, mutated, out.Bytes())
}

func TestPatchRejectsCorruptDelta(t *testing.T) {
	sigBytes, err := Compute(strings.NewReader("old content here"), DefaultBlockSize)
	require.NoError(t, err)
	sig, err := ParseSignature(sigBytes)
	require.NoError(t, err)

	delta, err := Delta([]byte("old content HERE"), sig)
	require.NoError(t, err)

	// Flip a byte inside the delta's opcode stream to corrupt it.
	corrupted := append([]byte(nil), delta...)
	corrupted[len(corrupted)-1] ^= 0xff

	var out bytes.Buffer
	err = Patch([]byte("old content here"), corrupted, &out)
	require.ErrorIs(t, err, vaulterr.ErrCorruptDelta)
}

func TestPatchRejectsOutOfRangeBlock(t *testing.T) {
	sigBytes, err := Compute(strings.NewReader("abcd"), DefaultBlockSize)
	require.NoError(t, err)
	sig, err := ParseSignature(sigBytes)
	require.NoError(t, err)

	delta, err := Delta([]byte("abcd"), sig)
	require.NoError(t, err)

	var out bytes.Buffer
	// Truncate the "old" content so the recorded block range is now out of bounds.
	err = Patch([]byte(""), delta, &out)
	require.ErrorIs(t, err, vaulterr.ErrCorruptDelta)
}
