package nmea

import (
	"bytes"
	"sync/atomic"
)

const defaultMaxFragmentBytes = 1024

// Router splits raw receive buffers into sentences and parses each one.
//
// A trailing fragment without a line terminator is held back and prefixed to
// the next buffer; it is never parsed on its own. Router is not safe for
// concurrent Feed calls; the counters may be read from any goroutine.
type Router struct {
	// MaxFragmentBytes bounds the held-back fragment. Longer fragments are
	// dropped. Zero means 1024.
	MaxFragmentBytes int

	// OnError, if set, is called for every recognized sentence that failed to
	// parse.
	OnError func(err error)

	// OnLine, if set, sees every complete non-empty line before parsing,
	// including unknown and malformed ones.
	OnLine func(line string)

	frag []byte

	lines     atomic.Uint64
	parsed    atomic.Uint64
	errors    atomic.Uint64
	unknown   atomic.Uint64
	truncated atomic.Uint64
}

type RouterStats struct {
	Lines     uint64 `json:"lines"`
	Parsed    uint64 `json:"parsed"`
	Errors    uint64 `json:"errors"`
	Unknown   uint64 `json:"unknown"`
	Truncated uint64 `json:"truncated"`
}

// Feed consumes one receive buffer and returns the merged update of every
// complete sentence in arrival order. Later sentences overwrite earlier ones
// field by field.
func (r *Router) Feed(buf []byte) map[string]any {
	out := map[string]any{}
	if len(buf) == 0 {
		return out
	}
	data := buf
	if len(r.frag) > 0 {
		data = append(r.frag, buf...)
		r.frag = nil
	}

	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(data[:i], "\r")
		data = data[i+1:]
		r.route(line, out)
	}

	if len(data) > 0 {
		max := r.MaxFragmentBytes
		if max <= 0 {
			max = defaultMaxFragmentBytes
		}
		if len(data) > max {
			r.truncated.Add(1)
		} else {
			r.frag = append([]byte(nil), data...)
		}
	}
	return out
}

// Pending returns the number of buffered fragment bytes.
func (r *Router) Pending() int {
	return len(r.frag)
}

// Reset discards any held-back fragment.
func (r *Router) Reset() {
	r.frag = nil
}

func (r *Router) route(line []byte, out map[string]any) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	r.lines.Add(1)
	s := string(line)
	if r.OnLine != nil {
		r.OnLine(s)
	}
	if !Known(s) {
		r.unknown.Add(1)
		return
	}
	upd, err := Parse(s)
	if err != nil {
		r.errors.Add(1)
		if r.OnError != nil {
			r.OnError(err)
		}
		return
	}
	r.parsed.Add(1)
	for k, v := range upd {
		out[k] = v
	}
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		Lines:     r.lines.Load(),
		Parsed:    r.parsed.Load(),
		Errors:    r.errors.Load(),
		Unknown:   r.unknown.Load(),
		Truncated: r.truncated.Load(),
	}
}
