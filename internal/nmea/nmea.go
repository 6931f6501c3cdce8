package nmea

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseError reports a sentence that could not be decoded. It is always
// recovered locally as "no update".
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nmea: %s", e.Reason)
}

func parseErr(line, reason string) error {
	return &ParseError{Line: line, Reason: reason}
}

// Checksum returns the two-digit uppercase hex XOR of every byte in body.
// body excludes the leading '$' and the trailing "*CC".
func Checksum(body string) string {
	ck := byte(0)
	for i := 0; i < len(body); i++ {
		ck ^= body[i]
	}
	return fmt.Sprintf("%02X", ck)
}

// Encode frames body as a CRLF-terminated sentence: $<body>*<CC>\r\n.
func Encode(body string) string {
	return "$" + body + "*" + Checksum(body) + "\r\n"
}

type Sentence struct {
	// Tag is the first field without the '$', e.g. "GPGGA" or "PSEAA".
	Tag string
	// Fields is the comma-split payload including the tag at index 0.
	Fields []string
	// HasChecksum is false for sentences that arrived without "*CC".
	HasChecksum bool
}

// ParseSentence validates framing and checksum and splits the payload.
//
// The checksum is verified when present. Sentences without one are accepted,
// matching what the vehicle emits on some firmware builds.
func ParseSentence(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, parseErr(line, "missing '$'")
	}
	payload := line[1:]
	hasCk := false
	if star := strings.LastIndexByte(line, '*'); star != -1 {
		payload = line[1:star]
		ck := strings.TrimSpace(line[star+1:])
		if len(ck) < 2 {
			return Sentence{}, parseErr(line, "short checksum")
		}
		want, err := hex.DecodeString(ck[:2])
		if err != nil || len(want) != 1 {
			return Sentence{}, parseErr(line, "bad checksum")
		}
		got := byte(0)
		for i := 0; i < len(payload); i++ {
			got ^= payload[i]
		}
		if got != want[0] {
			return Sentence{}, parseErr(line, "checksum mismatch")
		}
		hasCk = true
	}
	if strings.ContainsAny(payload, "$*") {
		return Sentence{}, parseErr(line, "embedded framing characters")
	}

	parts := strings.Split(payload, ",")
	if parts[0] == "" {
		return Sentence{}, parseErr(line, "empty tag")
	}
	return Sentence{Tag: strings.ToUpper(parts[0]), Fields: parts, HasChecksum: hasCk}, nil
}
