// Package audit appends settlement records to hourly zstd-compressed JSONL
// files.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Entry is one journal line
type Entry struct {
	Time       time.Time         `json:"time"`
	Kind       string            `json:"kind"`
	Settlement models.Settlement `json:"settlement"`
}

// Journal writes entries to <dir>/settlements-YYYY-MM-DD-HH.jsonl.zst
type Journal struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewJournal creates a journal under dir. Files are opened lazily.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

// Record appends the settlement. Each write ends a zstd frame so the file
// stays readable while it is still open.
func (j *Journal) Record(_ context.Context, s models.Settlement) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().UTC()
	hour := now.Format("2006-01-02-15")
	if hour != j.curHour {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(Entry{Time: now, Kind: s.Status, Settlement: s})
	if err != nil {
		return errors.Wrap(err, "marshal journal entry")
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	if err := j.enc.Close(); err != nil {
		return errors.Wrap(err, "close journal frame")
	}
	j.enc.Reset(j.f)
	return nil
}

// Close releases the current file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

// Path returns the file used for the given hour
func (j *Journal) Path(t time.Time) string {
	return j.pathForHour(t.UTC().Format("2006-01-02-15"))
}

func (j *Journal) pathForHour(hour string) string {
	return filepath.Join(j.dir, fmt.Sprintf("settlements-%s.jsonl.zst", hour))
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return errors.Wrap(err, "create journal dir")
	}
	f, err := os.OpenFile(j.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.curHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var err error
	if j.f != nil {
		err = j.f.Close()
		j.f = nil
	}
	j.enc = nil
	j.w = nil
	j.curHour = ""
	return err
}

// ReadFile decodes every entry of one journal file
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes journal entries from a compressed stream
func Read(r io.Reader) ([]Entry, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var entries []Entry
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, errors.Wrap(err, "decode journal entry")
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
