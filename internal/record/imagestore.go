package record

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"

	"github.com/klauspost/compress/zstd"

	"surveyor/internal/sensors"
)

// Image store layout:
//
//	magic "SVYFRM1\n"
//	header JSON line: {"shape":[h,w,3],"dtype":"uint8","codec":"zstd"}
//	records: uint32 BE payload length | uint32 BE CRC-32 (IEEE) of payload | payload
//
// The payload is the zstd-compressed h*w*3 frame. Shape is fixed per file.
// A record cut short by a crash is dropped when the store is reopened and
// ends iteration cleanly in ImageReader.

const imageMagic = "SVYFRM1\n"

var (
	ErrShapeMismatch = errors.New("image shape does not match store")
	ErrCorruptFrame  = errors.New("image frame checksum mismatch")
)

type imageHeader struct {
	Shape [3]int `json:"shape"`
	DType string `json:"dtype"`
	Codec string `json:"codec"`
}

// ImageStore appends frames to a single file.
type ImageStore struct {
	path   string
	f      *os.File
	enc    *zstd.Encoder
	hdr    *imageHeader
	frames uint64
	buf    []byte
	closed bool
}

// OpenImageStore opens or creates path. An existing store is validated and
// any partial trailing record is truncated away.
func OpenImageStore(path string) (*ImageStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s := &ImageStore{path: path, f: f, enc: enc}
	if err := s.recover(); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return nil, fmt.Errorf("image store %s: %w", path, err)
	}
	return s, nil
}

func (s *ImageStore) recover() error {
	st, err := s.f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return nil
	}
	br := bufio.NewReader(io.NewSectionReader(s.f, 0, st.Size()))
	hdr, off, err := readImageHeader(br)
	if err != nil {
		return err
	}
	s.hdr = &hdr

	var frames uint64
	var prefix [8]byte
	for {
		if _, err := io.ReadFull(br, prefix[:]); err != nil {
			break
		}
		n := int64(binary.BigEndian.Uint32(prefix[:4]))
		if n > int64(maxPayload(hdr.Shape)) {
			break
		}
		if k, err := br.Discard(int(n)); err != nil || int64(k) != n {
			break
		}
		off += 8 + n
		frames++
	}
	if off < st.Size() {
		log.Printf("record image store truncating partial tail path=%s keep=%d size=%d", s.path, off, st.Size())
		if err := s.f.Truncate(off); err != nil {
			return err
		}
	}
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return err
	}
	s.frames = frames
	return nil
}

// Shape returns the store's frame shape and whether one has been fixed yet.
func (s *ImageStore) Shape() ([3]int, bool) {
	if s.hdr == nil {
		return [3]int{}, false
	}
	return s.hdr.Shape, true
}

func (s *ImageStore) Frames() uint64 { return s.frames }

// Append compresses and writes one frame. The first frame of a new store
// fixes its shape.
func (s *ImageStore) Append(im sensors.Image) error {
	if s.closed {
		return errors.New("image store is closed")
	}
	if !im.Valid() {
		return fmt.Errorf("invalid image %dx%d with %d bytes", im.Width, im.Height, len(im.Pix))
	}
	if s.hdr == nil {
		h := imageHeader{Shape: im.Shape(), DType: "uint8", Codec: "zstd"}
		b, err := json.Marshal(h)
		if err != nil {
			return err
		}
		head := append([]byte(imageMagic), b...)
		head = append(head, '\n')
		if _, err := s.f.Write(head); err != nil {
			return err
		}
		s.hdr = &h
	} else if s.hdr.Shape != im.Shape() {
		return fmt.Errorf("%w: got %v want %v", ErrShapeMismatch, im.Shape(), s.hdr.Shape)
	}

	s.buf = s.enc.EncodeAll(im.Pix, s.buf[:0])
	rec := make([]byte, 8, 8+len(s.buf))
	binary.BigEndian.PutUint32(rec[:4], uint32(len(s.buf)))
	binary.BigEndian.PutUint32(rec[4:8], crc32.ChecksumIEEE(s.buf))
	rec = append(rec, s.buf...)
	if _, err := s.f.Write(rec); err != nil {
		return err
	}
	s.frames++
	return nil
}

func (s *ImageStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ImageReader iterates the frames of a store.
type ImageReader struct {
	f   *os.File
	br  *bufio.Reader
	dec *zstd.Decoder
	hdr imageHeader
}

func OpenImageReader(path string) (*ImageReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	hdr, _, err := readImageHeader(br)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("image store %s: %w", path, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &ImageReader{f: f, br: br, dec: dec, hdr: hdr}, nil
}

func (r *ImageReader) Shape() [3]int { return r.hdr.Shape }

// Next returns the next frame, or io.EOF at the end of the store or at a
// truncated final record.
func (r *ImageReader) Next() (sensors.Image, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r.br, prefix[:]); err != nil {
		return sensors.Image{}, io.EOF
	}
	n := binary.BigEndian.Uint32(prefix[:4])
	if int(n) > maxPayload(r.hdr.Shape) {
		return sensors.Image{}, io.EOF
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return sensors.Image{}, io.EOF
	}
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(prefix[4:8]) {
		return sensors.Image{}, ErrCorruptFrame
	}
	pix, err := r.dec.DecodeAll(payload, nil)
	if err != nil {
		return sensors.Image{}, fmt.Errorf("decode frame: %w", err)
	}
	im := sensors.Image{Width: r.hdr.Shape[1], Height: r.hdr.Shape[0], Pix: pix}
	if !im.Valid() {
		return sensors.Image{}, fmt.Errorf("frame has %d bytes, want %d", len(pix), im.Width*im.Height*3)
	}
	return im, nil
}

func (r *ImageReader) Close() error {
	r.dec.Close()
	return r.f.Close()
}

func readImageHeader(br *bufio.Reader) (imageHeader, int64, error) {
	magic := make([]byte, len(imageMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != imageMagic {
		return imageHeader{}, 0, errors.New("not an image frame store")
	}
	line, err := br.ReadBytes('\n')
	if err != nil {
		return imageHeader{}, 0, fmt.Errorf("read header: %w", err)
	}
	var h imageHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return imageHeader{}, 0, fmt.Errorf("decode header: %w", err)
	}
	if h.DType != "uint8" || h.Codec != "zstd" || h.Shape[2] != 3 || h.Shape[0] <= 0 || h.Shape[1] <= 0 {
		return imageHeader{}, 0, fmt.Errorf("unsupported header %s", line)
	}
	return h, int64(len(imageMagic) + len(line)), nil
}

// maxPayload bounds a record length so a corrupt prefix cannot trigger a
// huge allocation.
func maxPayload(shape [3]int) int {
	raw := shape[0] * shape[1] * shape[2]
	return raw + raw/8 + 1024
}
