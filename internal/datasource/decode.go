package datasource

import (
	"bytes"
	"encoding/json"

	"pkt.systems/groundstation/schema"
)

// maxLineBytes bounds a pending line; longer input is discarded up to the next newline.
const maxLineBytes = 64 << 10

// DecodeLine parses one newline-delimited telemetry record. Only JSON objects
// are accepted.
func DecodeLine(line []byte) (schema.TelemetrySnapshot, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}
	var snapshot schema.TelemetrySnapshot
	if err := json.Unmarshal(line, &snapshot); err != nil {
		return nil, false
	}
	return snapshot, true
}

// lineBuffer splits a byte stream into lines across reads.
type lineBuffer struct {
	pending  []byte
	overflow bool
}

// Feed appends chunk and returns the complete lines it finished.
func (b *lineBuffer) Feed(chunk []byte) [][]byte {
	var lines [][]byte
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			b.append(chunk)
			break
		}
		b.append(chunk[:idx])
		if !b.overflow {
			lines = append(lines, b.pending)
		}
		b.pending = nil
		b.overflow = false
		chunk = chunk[idx+1:]
	}
	return lines
}

func (b *lineBuffer) append(part []byte) {
	if b.overflow {
		return
	}
	if len(b.pending)+len(part) > maxLineBytes {
		b.pending = nil
		b.overflow = true
		return
	}
	b.pending = append(b.pending, part...)
}
