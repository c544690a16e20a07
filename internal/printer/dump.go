package printer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/ugorji/go/codec"
)

// Record is one payload as written by Dump.
type Record struct {
	Band    int    `json:"band"`
	Size    int    `json:"size"`
	Payload string `json:"payload"`
}

// Dump writes payloads as JSON lines instead of sending them to a device.
type Dump struct {
	w      io.Writer
	enc    *codec.Encoder
	handle codec.JsonHandle
	band   int
	mu     sync.Mutex
}

// NewDump returns a Dump writing to w
func NewDump(w io.Writer) *Dump {
	d := &Dump{w: w}
	d.handle.TypeInfos = codec.NewTypeInfos([]string{"json"})
	d.enc = codec.NewEncoder(w, &d.handle)
	return d
}

// Write encodes data as the next record.
func (d *Dump) Write(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	rec := Record{Band: d.band, Size: len(data), Payload: hex.EncodeToString(data)}
	if err := d.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode band %d: %w", d.band, err)
	}
	if _, err := io.WriteString(d.w, "\n"); err != nil {
		return err
	}
	d.band++
	return nil
}

// DecodeRecords reads records written by Dump.
func DecodeRecords(r io.Reader) ([]Record, error) {
	var h codec.JsonHandle
	h.TypeInfos = codec.NewTypeInfos([]string{"json"})

	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := codec.NewDecoderBytes(line, &h).Decode(&rec); err != nil {
			return out, fmt.Errorf("decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
