package vault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"vaultchain/pkg/deltasig"
	"vaultchain/pkg/dirscan"
	"vaultchain/pkg/vaulterr"
)

// ExpandVault reconstructs the directory represented by vaultFileName into
// outputDir, which must exist and be empty. It walks the chain back to its
// full base, verifying each predecessor's hash, then replays the chain
// forward into a scratch working tree before copying the result into
// outputDir — so a failure at any point leaves outputDir untouched.
func ExpandVault(vaultDir, vaultFileName, passphrase, outputDir string, logger Logger) error {
	logger = orNop(logger)

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("read output dir: %w", vaulterr.ErrIoFailure)
	}
	if len(entries) > 0 {
		return fmt.Errorf("output dir %s: %w", outputDir, vaulterr.ErrOutputNotEmpty)
	}

	chain, err := openChain(vaultDir, vaultFileName, passphrase)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range chain {
			r.Close()
		}
	}()

	working, err := os.MkdirTemp("", "vaultchain-restore-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("create working tree: %w", vaulterr.ErrIoFailure)
	}
	defer os.RemoveAll(working)

	base := chain[0]
	for key := range base.FileSet() {
		if err := copyCreated(base, key, working); err != nil {
			return err
		}
	}
	currentState := base.DirState()
	logger.Info("restore: initialized from base", F("vault", base.ID()), F("files", len(base.FileSet())))

	for i := 1; i < len(chain); i++ {
		v := chain[i]
		diff := dirscan.Compute(currentState, v.DirState())

		for key := range diff.Deleted {
			if err := os.Remove(filepath.Join(working, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", key, vaulterr.ErrIoFailure)
			}
		}
		for key := range diff.Created {
			if err := copyCreated(v, key, working); err != nil {
				return err
			}
		}
		for key := range diff.Updated {
			if err := applyUpdate(v, key, working); err != nil {
				return err
			}
		}

		currentState = v.DirState()
		logger.Info("restore: patched", F("vault", v.ID()), F("step", i))
	}

	if err := copyTree(working, outputDir); err != nil {
		return err
	}
	logger.Info("restore: done", F("output", outputDir))
	return nil
}

// openChain opens the tip vault and walks predecessor links back to a full
// vault, verifying each hop's hash. The returned slice is ordered base-first.
func openChain(vaultDir, tipFileName, passphrase string) ([]*Reader, error) {
	tip, err := Open(filepath.Join(vaultDir, tipFileName), passphrase)
	if err != nil {
		return nil, fmt.Errorf("open tip vault: %w", err)
	}

	chain := []*Reader{tip}
	cur := tip
	for cur.Kind() == Incremental {
		prevRef := cur.Previous()
		if prevRef == nil {
			closeAll(chain)
			return nil, fmt.Errorf("incremental vault %s has no predecessor reference: %w", cur.ID(), vaulterr.ErrBrokenChain)
		}
		prevPath := filepath.Join(vaultDir, prevRef.FileName)
		prev, err := Open(prevPath, passphrase)
		if err != nil {
			closeAll(chain)
			return nil, fmt.Errorf("open predecessor %s: %w: %w", prevRef.FileName, vaulterr.ErrBrokenChain, err)
		}
		if prev.HashValue() != prevRef.Hash {
			prev.Close()
			closeAll(chain)
			return nil, fmt.Errorf("predecessor %s hash mismatch: %w", prevRef.FileName, vaulterr.ErrHashMismatch)
		}
		chain = append(chain, prev)
		cur = prev
	}

	// reverse so the base (full vault) is first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func closeAll(chain []*Reader) {
	for _, r := range chain {
		r.Close()
	}
}

func copyCreated(v *Reader, key, workingDir string) error {
	src, err := v.Get(categoryCreated, key)
	if err != nil {
		return fmt.Errorf("read created %s: %w", key, err)
	}
	defer src.Close()

	dest := filepath.Join(workingDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return fmt.Errorf("create working subdir for %s: %w", key, vaulterr.ErrIoFailure)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create working file %s: %w", key, vaulterr.ErrIoFailure)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("write working file %s: %w", key, vaulterr.ErrIoFailure)
	}
	return nil
}

func applyUpdate(v *Reader, key, workingDir string) error {
	path := filepath.Join(workingDir, filepath.FromSlash(key))
	oldContent, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read working file %s to patch: %w", key, vaulterr.ErrCorruptDelta)
	}

	deltaSrc, err := v.Get(categoryUpdated, key)
	if err != nil {
		return fmt.Errorf("read delta %s: %w", key, err)
	}
	deltaBytes, err := io.ReadAll(deltaSrc)
	deltaSrc.Close()
	if err != nil {
		return fmt.Errorf("read delta %s: %w", key, vaulterr.ErrIoFailure)
	}

	var buf bytes.Buffer
	if err := deltasig.Patch(oldContent, deltaBytes, &buf); err != nil {
		return fmt.Errorf("apply delta to %s: %w", key, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("reopen %s for patch: %w", key, vaulterr.ErrIoFailure)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write patched %s: %w", key, vaulterr.ErrIoFailure)
	}
	return nil
}

func copyTree(srcDir, destDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk working tree: %w", vaulterr.ErrIoFailure)
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o700)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, vaulterr.ErrIoFailure)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return fmt.Errorf("create output subdir: %w", vaulterr.ErrIoFailure)
		}
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", dest, vaulterr.ErrIoFailure)
		}
		return nil
	})
}
