// Package dirscan enumerates regular files under a directory root and
// diffs two such snapshots into created/updated/deleted file-key sets.
//
// A file key is the file's path relative to the scanned root, using
// forward slashes regardless of host OS, matching the path convention
// vault signatures and archive members are keyed by.
package dirscan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"vaultchain/pkg/vaulterr"
)

// FileState is the per-key metadata captured by a directory snapshot.
type FileState struct {
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Fingerprint string    `json:"fingerprint"` // hex sha256 of file contents
}

// DirState is an unordered mapping from file key to its captured metadata.
type DirState map[string]FileState

// Diff is the result of comparing two DirStates: three disjoint key sets.
type Diff struct {
	Created map[string]struct{}
	Updated map[string]struct{}
	Deleted map[string]struct{}
}

// Snapshot walks root recursively and records every regular file it finds,
// keyed by its root-relative, slash-separated path. Symlinks are followed
// at most one level; a symlink target that resolves back under root (a
// cycle) is skipped rather than followed. Non-UTF-8 paths fail the whole
// scan with vaulterr.ErrUnsupportedPath.
func Snapshot(root string) (DirState, error) {
	state := make(DirState)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		if rel == "." {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !utf8.ValidString(key) {
			return fmt.Errorf("path %q: %w", path, vaulterr.ErrUnsupportedPath)
		}

		info := d
		mode := info.Type()

		if mode&os.ModeSymlink != 0 {
			resolved, statErr := followOnce(path, absRoot)
			if statErr != nil {
				return fmt.Errorf("resolve symlink %s: %w", path, statErr)
			}
			if resolved == nil {
				return nil // cycle back into root, or a directory target: skip
			}
			fs, hashErr := stateOf(resolved.path, resolved.info)
			if hashErr != nil {
				return hashErr
			}
			state[key] = fs
			return nil
		}

		if d.IsDir() {
			return nil
		}
		if !info.Type().IsRegular() {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return fmt.Errorf("stat %s: %w", path, statErr)
		}
		fs, hashErr := stateOf(path, fi)
		if hashErr != nil {
			return hashErr
		}
		state[key] = fs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

type resolvedTarget struct {
	path string
	info os.FileInfo
}

// followOnce resolves a single level of symlink indirection. It returns a
// nil target (no error) when the link points at a directory or back inside
// absRoot in a way that would otherwise require following further links,
// breaking cycles by path containment.
func followOnce(linkPath, absRoot string) (*resolvedTarget, error) {
	target, err := os.Readlink(linkPath)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(linkPath), target)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) || absTarget == absRoot {
		// Points back inside the tree being scanned; treat as a cycle and skip.
		return nil, nil
	}
	fi, err := os.Stat(absTarget)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
		return nil, nil
	}
	return &resolvedTarget{path: absTarget, info: fi}, nil
}

func stateOf(path string, fi os.FileInfo) (FileState, error) {
	fp, err := fingerprint(path)
	if err != nil {
		return FileState{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return FileState{
		Size:        fi.Size(),
		ModTime:     fi.ModTime().UTC(),
		Fingerprint: fp,
	}, nil
}

func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute diffs old against new, producing the created/updated/deleted key
// sets. A key is "updated" when present in both snapshots with a differing
// fingerprint; mtime alone never triggers an update so that a touch with no
// content change produces no delta.
func Compute(old, new DirState) Diff {
	d := Diff{
		Created: make(map[string]struct{}),
		Updated: make(map[string]struct{}),
		Deleted: make(map[string]struct{}),
	}
	for key, ns := range new {
		os_, existed := old[key]
		if !existed {
			d.Created[key] = struct{}{}
			continue
		}
		if os_.Fingerprint != ns.Fingerprint {
			d.Updated[key] = struct{}{}
		}
	}
	for key := range old {
		if _, stillPresent := new[key]; !stillPresent {
			d.Deleted[key] = struct{}{}
		}
	}
	return d
}

// Keys returns the sorted keys of a DirState, useful only for deterministic
// test output; callers must not otherwise rely on snapshot ordering.
func Keys(s DirState) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
