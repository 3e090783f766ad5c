package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogWriter dials a GELF UDP endpoint. The returned writer is meant
// for Setup's remotes; each JSON line becomes one GELF message.
func NewGraylogWriter(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("connect to graylog %s: %w", addr, err)
	}
	w.Facility = ServiceName
	return w, nil
}
