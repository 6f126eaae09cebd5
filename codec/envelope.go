// Package codec implements the binary encoding for every persisted entity
// in the index: logs, block metadata, manifests, chunks, tails, topic0
// mode/stats and the meta-state record. Every encoding begins with a
// version byte; chunk blobs additionally carry a trailing CRC32 over their
// payload, matching the wire-stable layout in the persisted-layout section
// of the design. A version mismatch or checksum failure is always a hard
// error — callers reached through a manifest reference must treat it as
// corruption.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/chainidx/finalidx/core"
)

const (
	versionLog         byte = 1
	versionBlockMeta   byte = 1
	versionMetaState   byte = 1
	versionManifest    byte = 1
	versionManifestSeg byte = 1
	versionTail        byte = 1
	versionChunk       byte = 1
	versionTopic0Mode  byte = 1
	versionTopic0Stats byte = 1
)

// checkVersion validates that buf is non-empty and its leading version byte
// matches want, returning the remaining payload.
func checkVersion(kind string, buf []byte, want byte) ([]byte, error) {
	if len(buf) < 1 {
		return nil, &core.CorruptionError{Message: fmt.Sprintf("%s: empty buffer", kind)}
	}
	if buf[0] != want {
		return nil, &core.CorruptionError{Message: fmt.Sprintf("%s: unsupported codec version %d (want %d)", kind, buf[0], want)}
	}
	return buf[1:], nil
}

// withCRC appends a big-endian CRC32 (IEEE) over payload, for use by blob
// encodings (chunks) that cross a store boundary where bit-rot or truncated
// writes must be detectable.
func withCRC(payload []byte) []byte {
	sum := crc32.ChecksumIEEE(payload)
	out := make([]byte, len(payload)+4)
	copy(out, payload)
	binary.BigEndian.PutUint32(out[len(payload):], sum)
	return out
}

// readFull is a thin io.ReadFull wrapper used throughout the decoders so a
// truncated buffer is always reported as an error rather than silently
// under-filling the destination.
func readFull(r io.Reader, p []byte) (int, error) {
	return io.ReadFull(r, p)
}

// stripCRC validates and removes a trailing big-endian CRC32.
func stripCRC(kind string, buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, &core.CorruptionError{Message: fmt.Sprintf("%s: buffer too short for crc32", kind)}
	}
	payload, tail := buf[:len(buf)-4], buf[len(buf)-4:]
	want := binary.BigEndian.Uint32(tail)
	got := crc32.ChecksumIEEE(payload)
	if want != got {
		return nil, &core.CorruptionError{Message: fmt.Sprintf("%s: crc32 mismatch (have %08x want %08x)", kind, got, want)}
	}
	return payload, nil
}
