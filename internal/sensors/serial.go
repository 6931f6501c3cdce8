package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
)

// SerialSonde talks to a sonde wired directly to a serial port, without the
// HTTP bridge.
type SerialSonde struct {
	path   string
	params []string

	mu sync.Mutex
	rw io.ReadWriteCloser
	rd *bufio.Reader
}

// OpenSerialSonde opens the port in raw 8N1 mode.
func OpenSerialSonde(path string, baud int, params []string) (*SerialSonde, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sonde serial device is required")
	}
	if baud <= 0 {
		baud = 9600
	}
	f, err := openSerial(path, baud)
	if err != nil {
		return nil, fmt.Errorf("open sonde serial %s: %w", path, err)
	}
	return newSerialSonde(path, f, params), nil
}

func newSerialSonde(path string, rw io.ReadWriteCloser, params []string) *SerialSonde {
	if len(params) == 0 {
		params = DefaultSondeParams
	}
	return &SerialSonde{path: path, params: params, rw: rw, rd: bufio.NewReader(rw)}
}

// Read sends "data" and parses the reply. The sonde echoes the command and
// may emit '#' comment lines first; those are skipped.
func (s *SerialSonde) Read(ctx context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rw == nil {
		return nil, errors.New("sonde serial is closed")
	}
	if _, err := io.WriteString(s.rw, "data\r"); err != nil {
		return nil, fmt.Errorf("sonde write: %w", err)
	}

	for tries := 0; tries < 3; tries++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if !dataLine(line) {
			continue
		}
		return ParseSondeLine(line, s.params), nil
	}
	return nil, errors.New("sonde: no data line in reply")
}

func (s *SerialSonde) readLine() (string, error) {
	line, err := s.rd.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil {
		if line != "" {
			return line, nil
		}
		if errors.Is(err, io.EOF) {
			return "", errors.New("sonde: read timeout")
		}
		return "", fmt.Errorf("sonde read: %w", err)
	}
	return line, nil
}

// dataLine rejects blanks, comments and command echoes (any letter).
func dataLine(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	for _, r := range line {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func (s *SerialSonde) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rw == nil {
		return nil
	}
	err := s.rw.Close()
	s.rw = nil
	return err
}
