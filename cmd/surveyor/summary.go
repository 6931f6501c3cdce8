package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"surveyor/internal/record"
)

type recordSummary struct {
	Columns []string
	Rows    int

	Scans    int
	BadScans int

	Frames        int
	CorruptFrames int
	Shape         [3]int

	WireSegments int
	WireLines    int
	WireDuration time.Duration
	TagCounts    map[string]int
}

// summarizeRecording reads back a record directory. Missing files count as
// empty; the lidar and image files only exist once a sample produced data.
func summarizeRecording(dir string) (recordSummary, error) {
	s := recordSummary{TagCounts: map[string]int{}}
	if err := summarizeCSV(filepath.Join(dir, record.StateFile), &s); err != nil {
		return s, err
	}
	if err := summarizeLidar(filepath.Join(dir, record.LidarFile), &s); err != nil {
		return s, err
	}
	if err := summarizeImages(filepath.Join(dir, record.ImageFile), &s); err != nil {
		return s, err
	}
	if err := summarizeWire(filepath.Join(dir, record.WireFile), &s); err != nil {
		return s, err
	}
	return s, nil
}

func summarizeCSV(path string, s *recordSummary) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if s.Columns == nil {
			s.Columns = row
			continue
		}
		s.Rows++
	}
}

func summarizeLidar(path string, s *recordSummary) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec record.LidarRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil || len(rec.Distances) != len(rec.Angles) {
			s.BadScans++
			continue
		}
		s.Scans++
	}
	return sc.Err()
}

func summarizeImages(path string, s *recordSummary) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	r, err := record.OpenImageReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	s.Shape = r.Shape()
	for {
		_, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, record.ErrCorruptFrame) {
			s.CorruptFrames++
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		s.Frames++
	}
}

func summarizeWire(path string, s *recordSummary) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := record.NewWireReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, r := range recs {
		if r.Line == "" {
			s.WireSegments++
			continue
		}
		s.WireLines++
		if r.At > s.WireDuration {
			s.WireDuration = r.At
		}
		s.TagCounts[sentenceTag(r.Line)]++
	}
	return nil
}

// sentenceTag returns the talker and type, e.g. "GPGGA", or "?" for lines
// that are not sentences.
func sentenceTag(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return "?"
	}
	tag := line[1:]
	if i := strings.IndexAny(tag, ",*"); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return "?"
	}
	return tag
}

func printRecordSummary(w io.Writer, dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("record dir is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	s, err := summarizeRecording(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "dir: %s\n", dir)
	fmt.Fprintf(w, "state_rows: %d\n", s.Rows)
	fmt.Fprintf(w, "state_columns: %s\n", strings.Join(s.Columns, ","))
	fmt.Fprintf(w, "lidar_scans: %d\n", s.Scans)
	if s.BadScans > 0 {
		fmt.Fprintf(w, "lidar_bad_lines: %d\n", s.BadScans)
	}
	fmt.Fprintf(w, "image_frames: %d\n", s.Frames)
	if s.Frames > 0 || s.CorruptFrames > 0 {
		fmt.Fprintf(w, "image_shape: %dx%dx%d\n", s.Shape[0], s.Shape[1], s.Shape[2])
	}
	if s.CorruptFrames > 0 {
		fmt.Fprintf(w, "image_corrupt_frames: %d\n", s.CorruptFrames)
	}
	if s.WireSegments == 0 && s.WireLines == 0 {
		return nil
	}
	fmt.Fprintf(w, "wire_segments: %d\n", s.WireSegments)
	fmt.Fprintf(w, "wire_lines: %d\n", s.WireLines)
	fmt.Fprintf(w, "wire_max_duration: %s\n", s.WireDuration)

	tags := make([]string, 0, len(s.TagCounts))
	for k := range s.TagCounts {
		tags = append(tags, k)
	}
	sort.Strings(tags)
	fmt.Fprintf(w, "wire_tag_counts:\n")
	for _, k := range tags {
		fmt.Fprintf(w, "  %s: %d\n", k, s.TagCounts[k])
	}
	return nil
}
