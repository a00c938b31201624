package vault

import (
	"fmt"
	"path/filepath"

	"vaultchain/pkg/dirscan"
)

// CreateVault scans sourceDir and writes a new full vault under vaultDir.
func CreateVault(vaultDir, sourceDir, passphrase string, logger Logger) (string, error) {
	state, err := dirscan.Snapshot(sourceDir)
	if err != nil {
		return "", fmt.Errorf("scan source directory: %w", err)
	}

	w, err := NewWriter(vaultDir, sourceDir, passphrase, nil, logger)
	if err != nil {
		return "", err
	}
	for key := range state {
		if err := w.Create(key); err != nil {
			return "", err
		}
	}
	return w.Close(state)
}

// IncrementVault scans sourceDir, diffs it against the predecessor vault's
// directory state, and writes a new incremental vault expressing only that
// diff, chained to the predecessor by name and hash.
func IncrementVault(vaultDir, predecessorFileName, passphrase, sourceDir string, logger Logger) (string, error) {
	predPath := filepath.Join(vaultDir, predecessorFileName)
	predReader, err := Open(predPath, passphrase)
	if err != nil {
		return "", fmt.Errorf("open predecessor vault: %w", err)
	}

	predecessor := &Predecessor{
		FileName:   predecessorFileName,
		Hash:       predReader.HashValue(),
		Signatures: predReader.Signatures(),
		FileSet:    predReader.FileSet(),
	}
	predecessorState := predReader.DirState()
	// The writer holds everything it needs by value; release the
	// predecessor's scratch area immediately rather than at defer time.
	if err := predReader.Close(); err != nil {
		return "", err
	}

	newState, err := dirscan.Snapshot(sourceDir)
	if err != nil {
		return "", fmt.Errorf("scan source directory: %w", err)
	}
	diff := dirscan.Compute(predecessorState, newState)

	w, err := NewWriter(vaultDir, sourceDir, passphrase, predecessor, logger)
	if err != nil {
		return "", err
	}
	for key := range diff.Created {
		if err := w.Create(key); err != nil {
			return "", err
		}
	}
	for key := range diff.Updated {
		if err := w.Update(key); err != nil {
			return "", err
		}
	}
	for key := range diff.Deleted {
		if err := w.Delete(key); err != nil {
			return "", err
		}
	}
	return w.Close(newState)
}

// OpenVault opens and parses a single vault file.
func OpenVault(vaultFilePath, passphrase string) (*Reader, error) {
	return Open(vaultFilePath, passphrase)
}
