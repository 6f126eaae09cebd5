package codec

import (
	"bytes"

	"github.com/chainidx/finalidx/core"
)

// EncodeManifest serializes a manifest header for storage at
// manifests/{stream_id}.
//
// Layout: version(1) | manifest_version(8) | last_chunk_seq(4) |
// approx_count(8) | chunk_ref_count(4) | chunk_refs[chunk_seq(4) min(4)
// max(4) count(4)]*.
func EncodeManifest(m *core.ManifestHeader) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionManifest)
	writeU64(buf, m.Version)
	writeU32(buf, m.LastChunkSeq)
	writeU64(buf, m.ApproxCount)
	writeU32(buf, uint32(len(m.ChunkRefs)))
	for _, ref := range m.ChunkRefs {
		writeChunkRef(buf, ref)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func DecodeManifest(data []byte) (*core.ManifestHeader, error) {
	payload, err := checkVersion("manifest", data, versionManifest)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	m := &core.ManifestHeader{}
	if m.Version, err = readU64(r); err != nil {
		return nil, corrupt("manifest", err)
	}
	if m.LastChunkSeq, err = readU32(r); err != nil {
		return nil, corrupt("manifest", err)
	}
	if m.ApproxCount, err = readU64(r); err != nil {
		return nil, corrupt("manifest", err)
	}
	count, err := readU32(r)
	if err != nil {
		return nil, corrupt("manifest", err)
	}
	m.ChunkRefs = make([]core.ChunkRef, count)
	for i := range m.ChunkRefs {
		ref, err := readChunkRef(r)
		if err != nil {
			return nil, corrupt("manifest", err)
		}
		m.ChunkRefs[i] = ref
	}
	return m, nil
}

// EncodeManifestSegment serializes a manifest segment for storage at
// manifest_segments/{stream_id}/{segment_id}.
func EncodeManifestSegment(s *core.ManifestSegment) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionManifestSeg)
	writeU32(buf, s.SegmentID)
	writeU32(buf, uint32(len(s.ChunkRefs)))
	for _, ref := range s.ChunkRefs {
		writeChunkRef(buf, ref)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func DecodeManifestSegment(data []byte) (*core.ManifestSegment, error) {
	payload, err := checkVersion("manifest_segment", data, versionManifestSeg)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	s := &core.ManifestSegment{}
	if s.SegmentID, err = readU32(r); err != nil {
		return nil, corrupt("manifest_segment", err)
	}
	count, err := readU32(r)
	if err != nil {
		return nil, corrupt("manifest_segment", err)
	}
	s.ChunkRefs = make([]core.ChunkRef, count)
	for i := range s.ChunkRefs {
		ref, err := readChunkRef(r)
		if err != nil {
			return nil, corrupt("manifest_segment", err)
		}
		s.ChunkRefs[i] = ref
	}
	return s, nil
}

func writeChunkRef(buf *bytes.Buffer, ref core.ChunkRef) {
	writeU32(buf, ref.ChunkSeq)
	writeU32(buf, ref.MinLocal)
	writeU32(buf, ref.MaxLocal)
	writeU32(buf, ref.Count)
}

func readChunkRef(r *bytes.Reader) (core.ChunkRef, error) {
	var ref core.ChunkRef
	var err error
	if ref.ChunkSeq, err = readU32(r); err != nil {
		return ref, err
	}
	if ref.MinLocal, err = readU32(r); err != nil {
		return ref, err
	}
	if ref.MaxLocal, err = readU32(r); err != nil {
		return ref, err
	}
	if ref.Count, err = readU32(r); err != nil {
		return ref, err
	}
	return ref, nil
}
