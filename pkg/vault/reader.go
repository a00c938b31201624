package vault

import (
	"bytes"
	"crypto/md5" //nolint:gosec // legacy chain-integrity digest required by the vault format, not a security boundary
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vaultchain/pkg/codec"
	"vaultchain/pkg/dirscan"
	"vaultchain/pkg/vaulterr"
)

// Reader opens and exposes the contents of one closed vault file: its
// metadata, file set, signature table, directory snapshot, and an
// on-demand view of the data it carries.
type Reader struct {
	path      string
	hashValue string
	meta      metadataDoc
	fileSet   map[string]struct{}
	signatures map[string][]byte
	dirState  dirscan.DirState

	encryptedData []byte
	passphrase    string

	scratchDir string
	unfolded   bool
}

// Open reads, verifies and parses a vault file, returning a Reader over it.
func Open(path, passphrase string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault file %s: %w", path, vaulterr.ErrIoFailure)
	}

	sum := md5.Sum(raw)
	hashValue := hex.EncodeToString(sum[:])

	members, err := codec.ReadAllMembers(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read vault archive %s: %w", path, err)
	}
	if len(members) != len(memberOrder) {
		return nil, fmt.Errorf("vault %s has %d members, expected %d: %w", path, len(members), len(memberOrder), vaulterr.ErrMalformedVault)
	}
	for i, want := range memberOrder {
		if members[i].Name != want {
			return nil, fmt.Errorf("vault %s member %d is %q, expected %q: %w", path, i, members[i].Name, want, vaulterr.ErrMalformedVault)
		}
	}

	decryptJSON := func(blob []byte, v any) error {
		sealed, err := codec.Decrypt(blob, passphrase)
		if err != nil {
			return err
		}
		plain, err := codec.Decompress(bytes.NewReader(sealed))
		if err != nil {
			return fmt.Errorf("decompress member: %w", vaulterr.ErrMalformedVault)
		}
		if err := json.Unmarshal(plain, v); err != nil {
			return fmt.Errorf("parse member: %w", vaulterr.ErrMalformedVault)
		}
		return nil
	}

	metaBlob, err := codec.FindMember(members, memberMetadata)
	if err != nil {
		return nil, fmt.Errorf("locate metadata member: %w", err)
	}
	listBlob, err := codec.FindMember(members, memberList)
	if err != nil {
		return nil, fmt.Errorf("locate list member: %w", err)
	}
	sigsBlob, err := codec.FindMember(members, memberSigs)
	if err != nil {
		return nil, fmt.Errorf("locate signatures member: %w", err)
	}
	stateBlob, err := codec.FindMember(members, memberState)
	if err != nil {
		return nil, fmt.Errorf("locate dir state member: %w", err)
	}
	dataBlob, err := codec.FindMember(members, memberData)
	if err != nil {
		return nil, fmt.Errorf("locate data member: %w", err)
	}

	var meta metadataDoc
	if err := decryptJSON(metaBlob, &meta); err != nil {
		return nil, fmt.Errorf("decrypt metadata: %w", err)
	}
	var fileList []string
	if err := decryptJSON(listBlob, &fileList); err != nil {
		return nil, fmt.Errorf("decrypt file list: %w", err)
	}
	var sigEntries []sigEntry
	if err := decryptJSON(sigsBlob, &sigEntries); err != nil {
		return nil, fmt.Errorf("decrypt signatures: %w", err)
	}
	var state dirscan.DirState
	if err := decryptJSON(stateBlob, &state); err != nil {
		return nil, fmt.Errorf("decrypt dir state: %w", err)
	}

	fileSet := make(map[string]struct{}, len(fileList))
	for _, k := range fileList {
		fileSet[k] = struct{}{}
	}
	signatures := make(map[string][]byte, len(sigEntries))
	for _, e := range sigEntries {
		sig, err := base64.StdEncoding.DecodeString(e.Sig)
		if err != nil {
			return nil, fmt.Errorf("decode signature for %s: %w", e.File, vaulterr.ErrMalformedVault)
		}
		signatures[e.File] = sig
	}

	return &Reader{
		path:          path,
		hashValue:     hashValue,
		meta:          meta,
		fileSet:       fileSet,
		signatures:    signatures,
		dirState:      state,
		encryptedData: dataBlob,
		passphrase:    passphrase,
	}, nil
}

func (r *Reader) Kind() Kind                  { return r.meta.Type }
func (r *Reader) ID() string                  { return r.meta.ID }
func (r *Reader) Timestamp() time.Time        { return r.meta.Timestamp }
func (r *Reader) SourceDirName() string       { return r.meta.DirName }
func (r *Reader) HashValue() string           { return r.hashValue }
func (r *Reader) Previous() *PredecessorRef   { return r.meta.PreviousVault }
func (r *Reader) DirState() dirscan.DirState  { return r.dirState }

// FileSet returns a copy of the vault's cumulative file set.
func (r *Reader) FileSet() map[string]struct{} {
	out := make(map[string]struct{}, len(r.fileSet))
	for k := range r.fileSet {
		out[k] = struct{}{}
	}
	return out
}

// Signatures returns a copy of the vault's signature table.
func (r *Reader) Signatures() map[string][]byte {
	out := make(map[string][]byte, len(r.signatures))
	for k, v := range r.signatures {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Unfold extracts the entire data archive into a scratch directory once;
// subsequent Get calls read from that scratch directory rather than
// re-scanning the inner archive.
func (r *Reader) Unfold() error {
	if r.unfolded {
		return nil
	}

	compressed, err := codec.Decrypt(r.encryptedData, r.passphrase)
	if err != nil {
		return fmt.Errorf("decrypt data archive: %w", err)
	}
	raw, err := codec.Decompress(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("decompress data archive: %w", err)
	}
	members, err := codec.ReadAllMembers(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("read data archive: %w", err)
	}

	dir, err := os.MkdirTemp("", "vaultchain-reader-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", vaulterr.ErrIoFailure)
	}

	for _, m := range members {
		dest := filepath.Join(dir, filepath.FromSlash(m.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("create scratch subdir: %w", vaulterr.ErrIoFailure)
		}
		if err := os.WriteFile(dest, m.Contents, 0o600); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("write scratch member %s: %w", m.Name, vaulterr.ErrIoFailure)
		}
	}

	r.scratchDir = dir
	r.unfolded = true
	return nil
}

// Get streams the bytes of data/<category>/<key>. category must be
// "created" or "updated".
func (r *Reader) Get(category, key string) (io.ReadCloser, error) {
	if category != categoryCreated && category != categoryUpdated {
		return nil, fmt.Errorf("category %q: %w", category, vaulterr.ErrInvalidCategory)
	}
	if !r.unfolded {
		if err := r.Unfold(); err != nil {
			return nil, err
		}
	}
	path := filepath.Join(r.scratchDir, "data", category, filepath.FromSlash(key))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", category, key, vaulterr.ErrMissingEntry)
	}
	return f, nil
}

// Close releases the reader's scratch area, if one was created.
func (r *Reader) Close() error {
	if r.scratchDir != "" {
		if err := os.RemoveAll(r.scratchDir); err != nil {
			return fmt.Errorf("release scratch dir: %w", vaulterr.ErrIoFailure)
		}
		r.scratchDir = ""
	}
	return nil
}
