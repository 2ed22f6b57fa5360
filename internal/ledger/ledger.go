// Package ledger maintains the per-layer run ledger: a living CSV document
// recording the latest outcome for every entity of a layer. Rows are merged
// across runs, never truncated, so a filtered run touching three entities
// leaves the other two hundred rows intact.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Status values written to the ledger file.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusNND     Status = "NND"
	StatusSkipped Status = "SKIPPED"
	StatusNone    Status = ""
)

// Header is the fixed wire-format column set, in order.
var Header = []string{
	"county", "city", "data_date",
	"download_status", "processing_status", "upload_status",
	"error_message", "timestamp",
}

// Row is one ledger line, keyed by (county, city) within a layer.
type Row struct {
	County     string
	City       string
	DataDate   string
	Download   Status
	Processing Status
	Upload     Status
	Error      string
	Timestamp  string
}

type Key struct {
	County string
	City   string
}

func (r Row) Key() Key {
	return Key{County: r.County, City: r.City}
}

// normalize enforces the NND invariant: a row whose download reported no new
// data carries no processing/upload statuses from a previous run.
func (r Row) normalize() Row {
	if r.Download == StatusNND {
		r.Processing = StatusNone
		r.Upload = StatusNone
	}
	return r
}

// Merge replaces rows by key and carries over untouched rows, returning the
// result sorted by county then city for stable diffs. A new row for a key is
// authoritative: no field-level mixing with the old row.
func Merge(existing, updates []Row) []Row {
	byKey := make(map[Key]Row, len(existing)+len(updates))
	for _, r := range existing {
		byKey[r.Key()] = r.normalize()
	}
	for _, r := range updates {
		byKey[r.Key()] = r.normalize()
	}

	merged := make([]Row, 0, len(byKey))
	for _, r := range byKey {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].County != merged[j].County {
			return merged[i].County < merged[j].County
		}
		return merged[i].City < merged[j].City
	})
	return merged
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// Ledger persists one layer's rows at <dir>/<layer>_ledger.csv. All writes
// go through Apply, which performs the whole read-merge-write cycle under a
// single lock.
type Ledger struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

func New(dir, layer string, opts ...Option) *Ledger {
	l := &Ledger{
		path:   filepath.Join(dir, layer+"_ledger.csv"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Path() string {
	return l.path
}

// Load reads the current rows. A missing file is an empty ledger.
func (l *Ledger) Load() ([]Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *Ledger) load() ([]Row, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)

	var rows []Row
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
		}
		if first {
			first = false
			if record[0] == Header[0] {
				continue
			}
		}
		rows = append(rows, Row{
			County:     record[0],
			City:       record[1],
			DataDate:   record[2],
			Download:   Status(record[3]),
			Processing: Status(record[4]),
			Upload:     Status(record[5]),
			Error:      record[6],
			Timestamp:  record[7],
		})
	}
	return rows, nil
}

// Apply merges the given rows into the ledger on disk. The write is atomic
// (temp file + rename) so a crash mid-run never leaves a torn file.
func (l *Ledger) Apply(updates []Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.load()
	if err != nil {
		return err
	}
	merged := Merge(existing, updates)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger header: %w", err)
	}
	for _, r := range merged {
		record := []string{
			r.County, r.City, r.DataDate,
			string(r.Download), string(r.Processing), string(r.Upload),
			r.Error, r.Timestamp,
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("write ledger row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}

	l.logger.Debug("ledger updated",
		zap.String("path", l.path),
		zap.Int("updated", len(updates)),
		zap.Int("total", len(merged)))
	return nil
}

// PreviousDataDate returns the recorded data date for a key, or empty when
// the entity has never completed a run. This feeds the metadata-based
// no-new-data check.
func (l *Ledger) PreviousDataDate(key Key) (string, error) {
	rows, err := l.Load()
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		if r.Key() == key {
			return r.DataDate, nil
		}
	}
	return "", nil
}
