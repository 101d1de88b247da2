package handlers

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func gzipLines(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n"))); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const metaLine = `{"server_id":"srv-1","session_id":"sess-1","created_at_ms":1700000000000,"event_count":2}`

func TestParseBatch(t *testing.T) {
	body := gzipLines(t,
		metaLine,
		`{"ts":1700000000100,"dir":"c2s","pkt":"arm_swing","uuid":"u1","name":"alice"}`,
		``,
		`{"ts":1700000000050,"dir":"s2c","pkt":"keep_alive"}`,
		`{"ts":1700000000200,"dir":"c2s","pkt":"use_entity","uuid":"u2","name":"bob","fields":{"target":7}}`,
	)

	meta, packets, err := parseBatch(body, 1<<20)
	if err != nil {
		t.Fatalf("parseBatch: %v", err)
	}
	if meta.ServerID != "srv-1" || meta.SessionID != "sess-1" {
		t.Fatalf("meta = %+v", meta)
	}
	if len(packets) != 3 {
		t.Fatalf("packets = %d, want 3 (blank line skipped)", len(packets))
	}
	if packets[2].Fields["target"] != float64(7) {
		t.Fatalf("fields not decoded: %+v", packets[2].Fields)
	}

	minTS, maxTS := timestampBounds(packets)
	if minTS != 1700000000050 || maxTS != 1700000000200 {
		t.Fatalf("bounds = %d..%d", minTS, maxTS)
	}

	players := batchPlayers(packets)
	if len(players) != 2 || players["u1"] != "alice" || players["u2"] != "bob" {
		t.Fatalf("players = %+v", players)
	}
}

func TestParseBatchErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    []byte
		max     int64
		wantErr error
	}{
		{
			name:    "not gzip",
			body:    []byte("plain text"),
			max:     1 << 20,
			wantErr: errBadGzip,
		},
		{
			name:    "empty",
			body:    gzipLines(t),
			max:     1 << 20,
			wantErr: errEmptyBatch,
		},
		{
			name:    "meta only",
			body:    gzipLines(t, metaLine),
			max:     1 << 20,
			wantErr: errEmptyBatch,
		},
		{
			name:    "bad meta",
			body:    gzipLines(t, `{"session_id":"sess-1"}`, `{"ts":1,"pkt":"x"}`),
			max:     1 << 20,
			wantErr: errBadMetaLine,
		},
		{
			name:    "bad event",
			body:    gzipLines(t, metaLine, `{"ts":0,"pkt":""}`),
			max:     1 << 20,
			wantErr: errBadEventLine,
		},
		{
			name:    "too big",
			body:    gzipLines(t, metaLine, `{"ts":1700000000100,"dir":"c2s","pkt":"arm_swing","uuid":"u1"}`),
			max:     int64(len(metaLine) + 10),
			wantErr: errBatchTooBig,
		},
		{
			// The limit cuts the event line mid-JSON; that is a size
			// violation, not a malformed line.
			name: "truncated mid-line",
			body: gzipLines(t, metaLine,
				`{"ts":1700000000100,"dir":"c2s","pkt":"arm_swing","uuid":"`+strings.Repeat("a", 240)+`"}`),
			max:     int64(len(metaLine) + 60),
			wantErr: errBatchTooBig,
		},
		{
			name:    "oversized meta",
			body:    gzipLines(t, metaLine, `{"ts":1,"pkt":"x","dir":"c2s"}`),
			max:     10,
			wantErr: errBatchTooBig,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := parseBatch(c.body, c.max)
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("err = %v, want %v", err, c.wantErr)
			}
		})
	}
}
