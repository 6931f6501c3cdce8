package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WireFile holds every raw inbound vehicle line when wire logging is on.
const WireFile = "wire_log.txt"

// Wire log format: line-oriented text.
//
//   - Blank lines and lines starting with '#' are ignored.
//   - "START <RFC 3339 UTC>" opens a segment; each open appends one.
//   - Data lines are "<t_ns>,<sentence>" where t_ns is nanoseconds since
//     the segment's START.

// WireRecord is one wire log entry. Line is empty on a START marker.
type WireRecord struct {
	At    time.Duration
	Start time.Time // set on START markers only
	Line  string
}

type WireReader struct {
	r io.Reader
}

func NewWireReader(r io.Reader) *WireReader {
	return &WireReader{r: r}
}

// ReadAll parses every record. A final line with no newline that does not
// parse is a torn write from a crash and is dropped.
func (wr *WireReader) ReadAll() ([]WireRecord, error) {
	br := bufio.NewReaderSize(wr.r, 64*1024)

	var recs []WireRecord
	for {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		torn := errors.Is(err, io.EOF) && raw != ""
		if raw != "" {
			rec, ok, perr := parseWireLine(raw)
			switch {
			case perr != nil && torn:
				return recs, nil
			case perr != nil:
				return nil, perr
			case ok:
				recs = append(recs, rec)
			}
		}
		if err != nil {
			return recs, nil
		}
	}
}

// parseWireLine reports ok=false for blank and comment lines.
func parseWireLine(raw string) (WireRecord, bool, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return WireRecord{}, false, nil
	}
	if rest, ok := strings.CutPrefix(line, "START"); ok {
		rec := WireRecord{}
		if ts := strings.TrimSpace(rest); ts != "" {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return WireRecord{}, false, fmt.Errorf("invalid wire log start %q: %w", ts, err)
			}
			rec.Start = t
		}
		return rec, true, nil
	}

	tsStr, sentence, ok := strings.Cut(line, ",")
	if !ok {
		return WireRecord{}, false, fmt.Errorf("invalid wire log line (missing comma): %q", line)
	}
	if sentence == "" {
		return WireRecord{}, false, fmt.Errorf("invalid wire log line (empty sentence): %q", line)
	}
	tsNs, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
	if err != nil {
		return WireRecord{}, false, fmt.Errorf("invalid wire log timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return WireRecord{}, false, fmt.Errorf("invalid wire log timestamp (negative): %d", tsNs)
	}
	return WireRecord{At: time.Duration(tsNs), Line: sentence}, true, nil
}

// WireLog appends raw lines. It is safe for concurrent use; each line is a
// single write so a crash loses at most the line in flight.
type WireLog struct {
	mu     sync.Mutex
	f      *os.File
	start  time.Time
	lines  uint64
	closed bool
}

// OpenWireLog appends a new segment to path. A torn last line left by a
// crash is cut off first so the START marker begins its own line.
func OpenWireLog(path string, now time.Time) (*WireLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := trimTornLine(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wire log %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "START %s\n", now.UTC().Format(time.RFC3339Nano)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &WireLog{f: f, start: now}, nil
}

// trimTornLine truncates f back to just after its last newline.
func trimTornLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	end := st.Size()
	buf := make([]byte, 4096)
	for pos := end; pos > 0; {
		n := int64(len(buf))
		if pos < n {
			n = pos
		}
		pos -= n
		if _, err := f.ReadAt(buf[:n], pos); err != nil {
			return err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := pos + int64(i) + 1
			if keep == end {
				return nil
			}
			return f.Truncate(keep)
		}
	}
	if end == 0 {
		return nil
	}
	return f.Truncate(0)
}

func (w *WireLog) Append(now time.Time, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("wire log is closed")
	}
	if strings.ContainsAny(line, "\r\n") {
		line = strings.NewReplacer("\r", "", "\n", "").Replace(line)
	}
	if line == "" {
		return nil
	}

	// Use monotonic component of time when available.
	d := now.Sub(w.start)
	if d < 0 {
		d = 0
	}
	if _, err := w.f.WriteString(strconv.FormatInt(d.Nanoseconds(), 10) + "," + line + "\n"); err != nil {
		return err
	}
	w.lines++
	return nil
}

func (w *WireLog) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *WireLog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}
