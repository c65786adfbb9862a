package audit

import (
	"encoding/json"
	"os"
	"sync"

	"aegis-server/pkg/errors"
)

// LedgerWriter persists append-only audit records. The real collaborator
// is an external ledger service; FileLedger is the local-durability
// implementation shipped with the daemon.
type LedgerWriter interface {
	Append(record map[string]interface{}) error
}

// FileLedger appends records as JSON lines to a single file. Writes are
// serialized; the file is opened O_APPEND so partial history survives
// crashes.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger creates a ledger writing to path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Append implements LedgerWriter.
func (l *FileLedger) Append(record map[string]interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal ledger record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return errors.Wrap(err, "open ledger file", map[string]interface{}{"path": l.path})
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "append ledger record")
	}
	return nil
}
