package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxPartialBytes bounds an unterminated log line; longer ones are cut.
const maxPartialBytes = 16 * 1024

// LogBuffer is a fixed ring of recent log lines for the operator page.
// main tees the standard logger into it.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	head    int // next slot to write
	n       int
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	if len(b.partial) > 0 {
		data = append(b.partial, p...)
		b.partial = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.push(string(data[:i]))
		data = data[i+1:]
	}
	if len(data) > maxPartialBytes {
		b.push(string(data[:maxPartialBytes]))
		data = nil
	}
	if len(data) > 0 {
		b.partial = append([]byte(nil), data...)
	}
	return len(p), nil
}

func (b *LogBuffer) push(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	if b.n == len(b.ring) {
		b.dropped++
	} else {
		b.n++
	}
	b.ring[b.head] = line
	b.head = (b.head + 1) % len(b.ring)
}

type LogsResponse struct {
	NowUTC    string   `json:"now_utc"`
	Component string   `json:"component,omitempty"`
	Dropped   uint64   `json:"dropped"`
	Lines     []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines, oldest first. A non-empty
// component keeps only lines whose message starts with that word, e.g.
// "record" or "session".
func (b *LogBuffer) Snapshot(tail int, component string) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 {
		tail = 200
	}
	start := b.head - b.n
	if start < 0 {
		start += len(b.ring)
	}
	for i := b.n - 1; i >= 0 && len(lines) < tail; i-- {
		line := b.ring[(start+i)%len(b.ring)]
		if component == "" || logComponent(line) == component {
			lines = append(lines, line)
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, b.dropped
}

// logComponent returns the first word after the standard logger's
// "2006/01/02 15:04:05" prefix.
func logComponent(line string) string {
	f := strings.Fields(line)
	for len(f) > 0 && isLogStamp(f[0]) {
		f = f[1:]
	}
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func isLogStamp(s string) bool {
	return s != "" && strings.Trim(s, "0123456789/:.") == ""
}

// Handler serves GET ?tail=N&component=name&format=text.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}
		component := strings.TrimSpace(q.Get("component"))

		lines, dropped := b.Snapshot(tail, component)
		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, LogsResponse{
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			Component: component,
			Dropped:   dropped,
			Lines:     lines,
		})
	})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
