// Package sse reads Server-Sent-Events payloads from upstream providers and
// writes JSON events to browsers.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const dataPrefix = "data:"

// Reader yields the payload of every "data:" line in a byte stream. Lines may
// arrive split across any number of reads.
type Reader struct {
	r   *bufio.Reader
	eof bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next non-empty data payload, with the prefix and
// surrounding whitespace removed. It returns io.EOF once the stream is
// exhausted; an unterminated final line is still delivered.
func (r *Reader) Next() (string, error) {
	for {
		if r.eof {
			return "", io.EOF
		}

		line, err := r.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			r.eof = true
		}

		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}
		return payload, nil
	}
}
