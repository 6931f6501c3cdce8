package sensors

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CameraClient follows the camera server's MJPEG stream in the background
// and keeps the latest decoded frame.
type CameraClient struct {
	http      httpBase
	reconnect time.Duration

	started atomic.Bool

	mu      sync.RWMutex
	img     Image
	have    bool
	frames  uint64
	lastErr string

	cancel context.CancelFunc
	done   chan struct{}
}

type CameraSnapshot struct {
	URL       string `json:"url"`
	Frames    uint64 `json:"frames"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func NewCameraClient(baseURL string) (*CameraClient, error) {
	b, err := newHTTPBase(baseURL, time.Second)
	if err != nil {
		return nil, err
	}
	// The stream never ends; only the dial and headers are bounded.
	b.hc = &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 5 * time.Second}}
	return &CameraClient{http: b, reconnect: time.Second, done: make(chan struct{})}, nil
}

func (c *CameraClient) Start(ctx context.Context) error {
	if c.started.Swap(true) {
		return fmt.Errorf("camera client already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		defer close(c.done)
		for {
			err := c.stream(runCtx)
			if runCtx.Err() != nil {
				return
			}
			if err != nil {
				c.setErr(err)
				log.Printf("camera stream error url=%s err=%v", c.http.base, err)
			}
			select {
			case <-runCtx.Done():
				return
			case <-time.After(c.reconnect):
			}
		}
	}()
	return nil
}

func (c *CameraClient) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Image returns the latest frame. The returned Pix must not be modified.
func (c *CameraClient) Image() (Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.img, c.have
}

func (c *CameraClient) Snapshot() CameraSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CameraSnapshot{
		URL:       c.http.base + "/video_feed",
		Frames:    c.frames,
		Width:     c.img.Width,
		Height:    c.img.Height,
		LastError: c.lastErr,
	}
}

func (c *CameraClient) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.http.base+"/video_feed", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("video_feed: http %d", resp.StatusCode)
	}

	mt, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("video_feed: %w", err)
	}
	if !strings.HasPrefix(mt, "multipart/") || params["boundary"] == "" {
		return fmt.Errorf("video_feed: unexpected content type %q", mt)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("video_feed: %w", err)
		}
		img, err := jpeg.Decode(part)
		_ = part.Close()
		if err != nil {
			c.setErr(fmt.Errorf("decode frame: %w", err))
			continue
		}
		c.set(toRGB(img))
	}
}

func (c *CameraClient) set(im Image) {
	c.mu.Lock()
	c.img = im
	c.have = true
	c.frames++
	c.lastErr = ""
	c.mu.Unlock()
}

func (c *CameraClient) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func toRGB(img image.Image) Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pix = append(pix, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return Image{Width: w, Height: h, Pix: pix}
}
