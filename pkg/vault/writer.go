package vault

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"vaultchain/pkg/codec"
	"vaultchain/pkg/deltasig"
	"vaultchain/pkg/dirscan"
	"vaultchain/pkg/vaulterr"
)

// Predecessor is the value-copied state an incremental Writer is seeded
// with: the predecessor vault's file name and hash (for the chain link)
// plus its signature table and file set (for create/update/delete to build
// on). The writer never holds a reference back to the reader that produced
// this value, so that reader may be closed immediately after constructing it.
type Predecessor struct {
	FileName   string
	Hash       string
	Signatures map[string][]byte
	FileSet    map[string]struct{}
}

// Writer assembles one new vault — full if predecessor is nil, incremental
// otherwise — from a source directory and a sequence of create/update/delete
// calls, finalized by Close.
type Writer struct {
	outputDir  string
	sourceDir  string
	passphrase string
	kind       Kind
	id         string
	timestamp  time.Time
	dirName    string
	logger     Logger

	predecessor *Predecessor
	signatures  map[string][]byte
	fileSet     map[string]struct{}
	created     map[string][]byte
	updated     map[string][]byte

	closed bool
}

// NewWriter constructs a writer for a new vault under outputDir, backing up
// sourceDir. predecessor may be nil for a full vault.
func NewWriter(outputDir, sourceDir, passphrase string, predecessor *Predecessor, logger Logger) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		return nil, fmt.Errorf("prepare output dir: %w", vaulterr.ErrIoFailure)
	}

	kind := Full
	signatures := make(map[string][]byte)
	fileSet := make(map[string]struct{})
	if predecessor != nil {
		kind = Incremental
		for k, v := range predecessor.Signatures {
			signatures[k] = append([]byte(nil), v...)
		}
		for k := range predecessor.FileSet {
			fileSet[k] = struct{}{}
		}
	}

	now := time.Now().UTC()
	return &Writer{
		outputDir:   outputDir,
		sourceDir:   sourceDir,
		passphrase:  passphrase,
		kind:        kind,
		id:          now.Format(time.RFC3339Nano),
		timestamp:   now,
		dirName:     filepath.Base(filepath.Clean(sourceDir)),
		logger:      orNop(logger),
		predecessor: predecessor,
		signatures:  signatures,
		fileSet:     fileSet,
		created:     make(map[string][]byte),
		updated:     make(map[string][]byte),
	}, nil
}

// Create stages a newly present file: its full bytes, a fresh signature,
// and membership in the growing file set.
func (w *Writer) Create(key string) error {
	data, err := os.ReadFile(filepath.Join(w.sourceDir, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("read %s: %w", key, vaulterr.ErrMissingFile)
	}
	sig, err := deltasig.Compute(bytes.NewReader(data), deltasig.DefaultBlockSize)
	if err != nil {
		return fmt.Errorf("signature for %s: %w", key, vaulterr.ErrSignatureFailure)
	}
	w.created[key] = data
	delete(w.updated, key)
	w.signatures[key] = sig
	w.fileSet[key] = struct{}{}
	w.logger.Info("staged created file", F("key", key), F("size", len(data)))
	return nil
}

// Update stages a binary delta against the predecessor's signature for key,
// then replaces that signature with one computed from the new content.
func (w *Writer) Update(key string) error {
	oldSigBytes, ok := w.signatures[key]
	if !ok {
		return fmt.Errorf("update %s: %w", key, vaulterr.ErrNoPredecessorSignature)
	}
	oldSig, err := deltasig.ParseSignature(oldSigBytes)
	if err != nil {
		return fmt.Errorf("parse signature for %s: %w", key, vaulterr.ErrSignatureFailure)
	}

	data, err := os.ReadFile(filepath.Join(w.sourceDir, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("read %s: %w", key, vaulterr.ErrMissingFile)
	}

	delta, err := deltasig.Delta(data, oldSig)
	if err != nil {
		return fmt.Errorf("delta for %s: %w", key, vaulterr.ErrSignatureFailure)
	}
	newSig, err := deltasig.Compute(bytes.NewReader(data), deltasig.DefaultBlockSize)
	if err != nil {
		return fmt.Errorf("resignature for %s: %w", key, vaulterr.ErrSignatureFailure)
	}

	w.updated[key] = delta
	delete(w.created, key)
	w.signatures[key] = newSig
	w.fileSet[key] = struct{}{}
	w.logger.Info("staged updated file", F("key", key), F("delta_size", len(delta)))
	return nil
}

// Delete removes key from the vault's tracked state. A no-op if key is not
// currently tracked.
func (w *Writer) Delete(key string) error {
	delete(w.signatures, key)
	delete(w.fileSet, key)
	delete(w.created, key)
	delete(w.updated, key)
	w.logger.Info("staged deleted file", F("key", key))
	return nil
}

// Close finalizes the vault: it assembles, compresses, encrypts and writes
// every member in the fixed order, atomically publishing the result. state
// is the full directory snapshot taken by the caller at the same moment the
// create/update/delete calls were derived; its keys must equal the
// writer's file set.
func (w *Writer) Close(state dirscan.DirState) (string, error) {
	if w.closed {
		return "", fmt.Errorf("writer already closed")
	}
	w.closed = true

	meta := metadataDoc{
		ID:        w.id,
		Timestamp: w.timestamp,
		Type:      w.kind,
		DirName:   w.dirName,
	}
	if w.predecessor != nil {
		meta.PreviousVault = &PredecessorRef{FileName: w.predecessor.FileName, Hash: w.predecessor.Hash}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	keys := make([]string, 0, len(w.fileSet))
	for k := range w.fileSet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	listJSON, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("marshal file list: %w", err)
	}

	sigEntries := make([]sigEntry, 0, len(w.signatures))
	for _, k := range keys {
		sigEntries = append(sigEntries, sigEntry{File: k, Sig: base64.StdEncoding.EncodeToString(w.signatures[k])})
	}
	sigsJSON, err := json.Marshal(sigEntries)
	if err != nil {
		return "", fmt.Errorf("marshal signatures: %w", err)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal dir state: %w", err)
	}

	dataBytes, err := w.buildDataArchive()
	if err != nil {
		return "", err
	}
	compressed, err := codec.Compress(bytes.NewReader(dataBytes), codec.DefaultCompressionLevel)
	if err != nil {
		return "", fmt.Errorf("compress data archive: %w", err)
	}
	encryptedData, err := codec.Encrypt(compressed, w.passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt data archive: %w", err)
	}

	encMeta, err := w.sealMember(metaJSON)
	if err != nil {
		return "", fmt.Errorf("seal metadata: %w", err)
	}
	encList, err := w.sealMember(listJSON)
	if err != nil {
		return "", fmt.Errorf("seal list: %w", err)
	}
	encSigs, err := w.sealMember(sigsJSON)
	if err != nil {
		return "", fmt.Errorf("seal signatures: %w", err)
	}
	encState, err := w.sealMember(stateJSON)
	if err != nil {
		return "", fmt.Errorf("seal dir state: %w", err)
	}

	tmpPath := filepath.Join(w.outputDir, ".vaultchain-"+uuid.NewString()+".tmp")
	finalName := sanitizeID(w.id) + ".vault"
	finalPath := filepath.Join(w.outputDir, finalName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create vault temp file: %w", vaulterr.ErrIoFailure)
	}
	aw := codec.NewArchiveWriter(f)
	writeErr := func() error {
		if err := aw.WriteMember(memberMetadata, encMeta); err != nil {
			return err
		}
		if err := aw.WriteMember(memberList, encList); err != nil {
			return err
		}
		if err := aw.WriteMember(memberSigs, encSigs); err != nil {
			return err
		}
		if err := aw.WriteMember(memberState, encState); err != nil {
			return err
		}
		if err := aw.WriteMember(memberData, encryptedData); err != nil {
			return err
		}
		return aw.Close()
	}()
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr != nil {
			return "", fmt.Errorf("write vault: %w", writeErr)
		}
		return "", fmt.Errorf("close vault file: %w", vaulterr.ErrIoFailure)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("publish vault: %w", vaulterr.ErrIoFailure)
	}

	w.logger.Info("vault closed", F("path", finalPath), F("kind", string(w.kind)), F("files", len(keys)))
	return finalPath, nil
}

// sealMember compresses then encrypts a JSON payload, the same
// compress-then-encrypt layering the data archive goes through. The
// signature table is already stored as run records (see deltasig.Compute);
// compression further shrinks it and the other JSON members.
func (w *Writer) sealMember(plain []byte) ([]byte, error) {
	compressed, err := codec.Compress(bytes.NewReader(plain), codec.DefaultCompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return codec.Encrypt(compressed, w.passphrase)
}

func (w *Writer) buildDataArchive() ([]byte, error) {
	var buf bytes.Buffer
	aw := codec.NewArchiveWriter(&buf)
	keys := make([]string, 0, len(w.created))
	for k := range w.created {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := aw.WriteMember("data/"+categoryCreated+"/"+k, w.created[k]); err != nil {
			return nil, fmt.Errorf("write created member %s: %w", k, err)
		}
	}
	keys = keys[:0]
	for k := range w.updated {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := aw.WriteMember("data/"+categoryUpdated+"/"+k, w.updated[k]); err != nil {
			return nil, fmt.Errorf("write updated member %s: %w", k, err)
		}
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("close data archive: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeID(id string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(id)
}
