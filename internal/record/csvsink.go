package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"

	"surveyor/internal/nmea"
)

// TimestampColumn is added to each row when Config.Timestamp is set.
const TimestampColumn = "Timestamp"

// CSVSink appends rows to a CSV file whose header is written exactly once.
//
// Reopening an existing file reuses its header, so a restarted recorder keeps
// appending under the same columns. Fields not in the header are dropped
// (logged once per name); header columns missing from a row are left empty.
type CSVSink struct {
	path    string
	f       *os.File
	w       *csv.Writer
	header  []string
	preset  []string
	ignored map[string]bool
	rows    uint64
	closed  bool
}

// OpenCSVSink opens or creates path. When columns is non-empty and the file
// has no header yet, those columns become the header; otherwise the first
// row decides.
func OpenCSVSink(path string, columns []string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	s := &CSVSink{path: path, f: f, preset: append([]string(nil), columns...), ignored: map[string]bool{}}
	if err := s.loadHeader(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv sink %s: %w", path, err)
	}
	s.w = csv.NewWriter(f)
	return s, nil
}

func (s *CSVSink) loadHeader() error {
	st, err := s.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size == 0 {
		return nil
	}
	hdr, err := csv.NewReader(io.NewSectionReader(s.f, 0, size)).Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	s.header = hdr

	// A crash mid-row leaves no trailing newline; start the next row clean.
	last := make([]byte, 1)
	if _, err := s.f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] != '\n' {
		if _, err := s.f.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}

// Header returns the current column set, or nil before the first row.
func (s *CSVSink) Header() []string {
	return append([]string(nil), s.header...)
}

func (s *CSVSink) Rows() uint64 { return s.rows }

// Append writes one row and flushes it.
func (s *CSVSink) Append(row map[string]any) error {
	if s.closed {
		return errors.New("csv sink is closed")
	}
	if s.header == nil {
		s.header = s.preset
		if len(s.header) == 0 {
			s.header = headerFor(row)
		}
		if err := s.w.Write(s.header); err != nil {
			return err
		}
	}

	known := make(map[string]bool, len(s.header))
	rec := make([]string, len(s.header))
	for i, col := range s.header {
		known[col] = true
		rec[i] = formatValue(row[col])
	}
	for k := range row {
		if !known[k] && !s.ignored[k] {
			s.ignored[k] = true
			log.Printf("record csv ignoring field not in header field=%q path=%s", k, s.path)
		}
	}

	if err := s.w.Write(rec); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	s.rows++
	return nil
}

func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}

// headerFor orders columns as: timestamp, known state fields in protocol
// order, then everything else sorted.
func headerFor(row map[string]any) []string {
	out := make([]string, 0, len(row))
	seen := map[string]bool{}
	add := func(k string) {
		if _, ok := row[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	add(TimestampColumn)
	for _, k := range nmea.StateFields() {
		add(k)
	}
	rest := make([]string, 0, len(row))
	for k := range row {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
