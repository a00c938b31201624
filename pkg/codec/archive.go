package codec

import (
	"archive/tar"
	"fmt"
	"io"
	"time"

	"vaultchain/pkg/vaulterr"
)

// ArchiveWriter appends named byte members to an outer sequential archive
// in the order they are written; it is a thin wrapper over archive/tar
// that only ever writes regular-file entries.
type ArchiveWriter struct {
	tw *tar.Writer
}

// NewArchiveWriter starts a new archive writing to w.
func NewArchiveWriter(w io.Writer) *ArchiveWriter {
	return &ArchiveWriter{tw: tar.NewWriter(w)}
}

// WriteMember appends one named member with the given contents.
func (a *ArchiveWriter) WriteMember(name string, contents []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Size:    int64(len(contents)),
		Mode:    0o600,
		ModTime: time.Now().UTC(),
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}
	if _, err := a.tw.Write(contents); err != nil {
		return fmt.Errorf("write member %s: %w", name, err)
	}
	return nil
}

// Close finalizes the archive. No further members may be written after this.
func (a *ArchiveWriter) Close() error {
	if err := a.tw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// ArchiveMember is one decoded entry read back from an archive.
type ArchiveMember struct {
	Name     string
	Contents []byte
}

// ReadAllMembers reads every member of an archive, in on-disk order.
func ReadAllMembers(r io.Reader) ([]ArchiveMember, error) {
	tr := tar.NewReader(r)
	var members []ArchiveMember
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive header: %w", vaulterr.ErrMalformedVault)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read member %s: %w", hdr.Name, err)
		}
		members = append(members, ArchiveMember{Name: hdr.Name, Contents: data})
	}
	return members, nil
}

// FindMember looks up a single member by name from an already-read list,
// returning vaulterr.ErrMissingEntry if absent.
func FindMember(members []ArchiveMember, name string) ([]byte, error) {
	for _, m := range members {
		if m.Name == name {
			return m.Contents, nil
		}
	}
	return nil, fmt.Errorf("member %q: %w", name, vaulterr.ErrMissingEntry)
}
