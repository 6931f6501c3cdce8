package sensors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	defaultHTTPTimeout = 3 * time.Second
	maxBodyBytes       = 1 << 20
)

type httpBase struct {
	base string
	hc   *http.Client
}

func newHTTPBase(baseURL string, timeout time.Duration) (httpBase, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return httpBase{}, fmt.Errorf("invalid sensor url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return httpBase{}, fmt.Errorf("invalid sensor url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return httpBase{}, fmt.Errorf("invalid sensor url %q: missing host", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return httpBase{base: baseURL, hc: &http.Client{Timeout: timeout}}, nil
}

func (b httpBase) do(ctx context.Context, method, path string, body []byte) ([]byte, string, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, rd)
	if err != nil {
		return nil, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// LidarClient polls the lidar server's /data endpoint.
type LidarClient struct {
	http httpBase
}

func NewLidarClient(baseURL string, timeout time.Duration) (*LidarClient, error) {
	b, err := newHTTPBase(baseURL, timeout)
	if err != nil {
		return nil, err
	}
	return &LidarClient{http: b}, nil
}

func (c *LidarClient) Scan(ctx context.Context) ([]float64, error) {
	data, _, err := c.http.do(ctx, http.MethodGet, "/data", nil)
	if err != nil {
		return nil, fmt.Errorf("lidar: %w", err)
	}
	var scan []float64
	if err := json.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("lidar: decode scan: %w", err)
	}
	if err := checkScan(scan); err != nil {
		return nil, fmt.Errorf("lidar: %w", err)
	}
	return scan, nil
}

// SondeClient reads the water-quality sonde through its HTTP bridge.
//
// The bridge answers GET /data with the sonde's reply to "data", either as
// plain text or wrapped as {"data": "..."}. Values are matched to Params by
// position.
type SondeClient struct {
	http   httpBase
	params []string
}

func NewSondeClient(baseURL string, params []string, timeout time.Duration) (*SondeClient, error) {
	b, err := newHTTPBase(baseURL, timeout)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		params = DefaultSondeParams
	}
	return &SondeClient{http: b, params: append([]string(nil), params...)}, nil
}

// Init asks the bridge to open its serial connection.
func (c *SondeClient) Init(ctx context.Context) error {
	if _, _, err := c.http.do(ctx, http.MethodPost, "/data", []byte("init")); err != nil {
		return fmt.Errorf("sonde init: %w", err)
	}
	return nil
}

func (c *SondeClient) Read(ctx context.Context) (Reading, error) {
	data, ctype, err := c.http.do(ctx, http.MethodGet, "/data", nil)
	if err != nil {
		return nil, fmt.Errorf("sonde: %w", err)
	}
	line := string(data)
	if mt, _, _ := mime.ParseMediaType(ctype); mt == "application/json" {
		var wrapped struct {
			Data  string `json:"data"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("sonde: decode reply: %w", err)
		}
		if wrapped.Error != "" {
			return nil, fmt.Errorf("sonde: %s", wrapped.Error)
		}
		line = wrapped.Data
	}
	r := ParseSondeLine(line, c.params)
	if len(r) == 0 {
		return nil, fmt.Errorf("sonde: empty reply")
	}
	return r, nil
}

// ParseSondeLine splits a sonde data reply on commas or whitespace and names
// each value by position. Values past the end of params are named
// "Param N" (1-based).
func ParseSondeLine(line string, params []string) Reading {
	vals := strings.FieldsFunc(strings.TrimSpace(line), func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	out := make(Reading, len(vals))
	for i, v := range vals {
		name := fmt.Sprintf("Param %d", i+1)
		if i < len(params) {
			name = params[i]
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[name] = f
		} else {
			out[name] = v
		}
	}
	return out
}
