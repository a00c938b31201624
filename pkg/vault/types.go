// Package vault implements the vault subsystem: writer, reader, and
// restore engine for self-describing, chained, encrypted backup files.
package vault

import "time"

// Kind distinguishes a full vault (self-sufficient) from an incremental
// one (expressed only as a delta against a named predecessor).
type Kind string

const (
	Full        Kind = "full"
	Incremental Kind = "incremental"
)

// member names inside the outer archive, in the fixed order §4.3 requires.
const (
	memberMetadata = "backup/metadata.json.gpg"
	memberList     = "backup/list.json.gpg"
	memberSigs     = "backup/sigs.json.gpg"
	memberState    = "backup/state.json.gpg"
	memberData     = "backup/data.tar.zst.gpg"
)

var memberOrder = []string{memberMetadata, memberList, memberSigs, memberState, memberData}

// data-archive member prefixes.
const (
	categoryCreated = "created"
	categoryUpdated = "updated"
)

// PredecessorRef names a vault's predecessor and the integrity hash it is
// expected to have when reopened.
type PredecessorRef struct {
	FileName string `json:"file_name"`
	Hash     string `json:"hash"`
}

// metadataDoc is the decrypted contents of backup/metadata.json.gpg.
type metadataDoc struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          Kind            `json:"type"`
	DirName       string          `json:"dir_name"`
	PreviousVault *PredecessorRef `json:"previous_vault,omitempty"`
}

// sigEntry is one element of backup/sigs.json.gpg: a file key paired with
// its base64-encoded rolling signature.
type sigEntry struct {
	File string `json:"file"`
	Sig  string `json:"sig"`
}

// Field is one piece of structured context attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a Field inline at a call site, e.g. vault.F("key", key).
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the only ambient collaborator the vault subsystem depends on.
// Concrete implementations live outside this package; a no-op logger is
// used wherever a caller passes nil.
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
