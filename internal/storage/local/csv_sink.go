package local

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// CSVHeader is the flat export layout: one row per supplier.
var CSVHeader = []string{"NSN", "Open Status", "Supplier Name", "CAGE Code", "Email", "Phone", "Confidence"}

// CSVSink appends flat supplier rows to <name>.csv and writes the run summary
// to <name>_summary.json on Close.
type CSVSink struct {
	mu          sync.Mutex
	dir         *Dir
	name        string
	path        string
	file        *os.File
	w           *csv.Writer
	summaryPath string
}

// NewCSVSink opens (or creates) <name>.csv beneath dir for appending.
func NewCSVSink(dir *Dir, name string) (*CSVSink, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	path, err := dir.Path(name + ".csv")
	if err != nil {
		return nil, err
	}
	s := &CSVSink{dir: dir, name: name, path: path}
	if err := s.open(false); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the CSV location.
func (s *CSVSink) Path() string { return s.path }

// SummaryPath returns the summary location once Close has run.
func (s *CSVSink) SummaryPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryPath
}

func (s *CSVSink) open(truncate bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	// #nosec G304 -- path is confined to the configured directory.
	f, err := os.OpenFile(s.path, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat csv: %w", err)
	}
	s.file = f
	s.w = csv.NewWriter(f)
	if info.Size() == 0 {
		if err := s.w.Write(CSVHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			return fmt.Errorf("flush csv header: %w", err)
		}
	}
	return nil
}

// Append writes the rows for one item and flushes them to disk. A sink
// closed by a previous run reopens for appending.
func (s *CSVSink) Append(_ context.Context, result sourcing.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		if err := s.open(false); err != nil {
			return err
		}
	}
	if err := s.w.WriteAll(Rows(result)); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync csv: %w", err)
	}
	return nil
}

// Reset truncates the CSV back to its header.
func (s *CSVSink) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close csv: %w", err)
		}
	}
	return s.open(true)
}

// Close flushes the CSV and writes the JSON summary next to it.
func (s *CSVSink) Close(_ context.Context, summary sourcing.BatchRunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.w.Flush()
		flushErr := s.w.Error()
		closeErr := s.file.Close()
		s.file, s.w = nil, nil
		if flushErr != nil {
			return fmt.Errorf("flush csv: %w", flushErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close csv: %w", closeErr)
		}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	uri, err := s.dir.WriteAtomic(s.name+"_summary.json", data)
	if err != nil {
		return err
	}
	s.summaryPath = strings.TrimPrefix(uri, "file://")
	return nil
}

// Rows flattens an item result into CSV rows. An item without suppliers still
// produces one row so that every NSN appears in the export.
func Rows(result sourcing.ItemResult) [][]string {
	display := result.DisplayNSN()
	open := result.OpenStatus()
	if len(result.Suppliers) == 0 {
		return [][]string{{display, open, "", "", "", "", ""}}
	}
	rows := make([][]string, 0, len(result.Suppliers))
	for _, s := range result.Suppliers {
		rows = append(rows, []string{
			display,
			open,
			s.Name,
			strings.Join(s.CAGECodes, "; "),
			strings.Join(s.Contact.Emails, "; "),
			strings.Join(s.Contact.Phones, "; "),
			string(s.Tier()),
		})
	}
	return rows
}
