package importer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// deadLetterRecord is one rejected row, appended as a JSON line
type deadLetterRecord struct {
	LineNo int       `json:"line_no"`
	Raw    string    `json:"raw"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// deadLetter appends rejected rows to dlq-<run_id>.jsonl. The file is created
// lazily so clean imports leave nothing behind.
type deadLetter struct {
	dir    string
	runID  string
	file   *os.File
	enc    *json.Encoder
	logger zerolog.Logger
}

func newDeadLetter(dir, runID string, logger zerolog.Logger) *deadLetter {
	return &deadLetter{dir: dir, runID: runID, logger: logger}
}

func (d *deadLetter) Write(lineNo int, raw string, rowErr error) {
	if d.file == nil {
		path := filepath.Join(d.dir, "dlq-"+d.runID+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			d.logger.Error().Err(err).Str("path", path).Msg("Cannot open dead-letter file")
			return
		}
		d.file = f
		d.enc = json.NewEncoder(f)
	}
	record := deadLetterRecord{LineNo: lineNo, Raw: raw, Error: rowErr.Error(), At: time.Now().UTC()}
	if err := d.enc.Encode(record); err != nil {
		d.logger.Error().Err(err).Msg("Cannot append dead-letter record")
	}
}

// Path returns the dead-letter file path, or empty when no row failed
func (d *deadLetter) Path() string {
	if d.file == nil {
		return ""
	}
	return d.file.Name()
}

func (d *deadLetter) Close() {
	if d.file != nil {
		d.file.Close()
	}
}
