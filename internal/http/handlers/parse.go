package handlers

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"packetwatch/internal/moduleapi"
)

var (
	errBadGzip      = errors.New("body is not valid gzip")
	errBatchTooBig  = errors.New("decompressed batch exceeds size limit")
	errEmptyBatch   = errors.New("batch contains no events")
	errBadMetaLine  = errors.New("first line is not valid batch metadata")
	errBadEventLine = errors.New("malformed event line")
)

// parseBatch decompresses and structurally validates one ingest body:
// gzip-compressed NDJSON where line 1 is batch metadata and every further
// line is one event. The compressed bytes themselves are persisted verbatim
// elsewhere; this parse only feeds indexing and dispatch.
func parseBatch(compressed []byte, maxBytes int64) (*moduleapi.BatchMeta, []moduleapi.Packet, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, errBadGzip
	}
	defer zr.Close()

	limited := io.LimitReader(zr, maxBytes+1)
	sc := bufio.NewScanner(limited)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	if !sc.Scan() {
		if sc.Err() != nil {
			return nil, nil, errBadGzip
		}
		return nil, nil, errEmptyBatch
	}

	// Size accounting counts the newline framing the scanner strips, so a
	// body the limit reader truncated mid-line is reported as oversize
	// rather than as a malformed line. The check runs before each parse.
	read := int64(len(sc.Bytes()))
	if read > maxBytes {
		return nil, nil, errBatchTooBig
	}

	var meta moduleapi.BatchMeta
	if err := json.Unmarshal(sc.Bytes(), &meta); err != nil || meta.ServerID == "" || meta.SessionID == "" {
		return nil, nil, errBadMetaLine
	}

	var packets []moduleapi.Packet
	for sc.Scan() {
		line := sc.Bytes()
		read += 1 + int64(len(line))
		if read > maxBytes {
			return nil, nil, errBatchTooBig
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var p moduleapi.Packet
		if err := json.Unmarshal(line, &p); err != nil || p.TS == 0 || p.Pkt == "" {
			return nil, nil, fmt.Errorf("%w: line %d", errBadEventLine, len(packets)+2)
		}
		packets = append(packets, p)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, errBadGzip
	}
	if len(packets) == 0 {
		return nil, nil, errEmptyBatch
	}

	return &meta, packets, nil
}

// timestampBounds returns the min/max event timestamps of a batch in epoch
// milliseconds.
func timestampBounds(packets []moduleapi.Packet) (minTS, maxTS int64) {
	minTS, maxTS = packets[0].TS, packets[0].TS
	for _, p := range packets[1:] {
		if p.TS < minTS {
			minTS = p.TS
		}
		if p.TS > maxTS {
			maxTS = p.TS
		}
	}
	return minTS, maxTS
}

// batchPlayers collects the (uuid, name) identities appearing in a batch.
func batchPlayers(packets []moduleapi.Packet) map[string]string {
	players := make(map[string]string)
	for _, p := range packets {
		if p.UUID == "" {
			continue
		}
		if p.Name != "" || players[p.UUID] == "" {
			players[p.UUID] = p.Name
		}
	}
	return players
}
