package codec

import (
	"bytes"

	"github.com/chainidx/finalidx/core"
)

// EncodeMetaState serializes the meta/state visibility-barrier record.
//
// Layout: version(1) | indexed_finalized_head(8) | next_log_id(8) |
// writer_epoch(8).
func EncodeMetaState(s *core.MetaState) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionMetaState)
	writeU64(buf, s.IndexedFinalizedHead)
	writeU64(buf, s.NextLogID)
	writeU64(buf, s.WriterEpoch)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func DecodeMetaState(data []byte) (*core.MetaState, error) {
	payload, err := checkVersion("meta_state", data, versionMetaState)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	s := &core.MetaState{}
	if s.IndexedFinalizedHead, err = readU64(r); err != nil {
		return nil, corrupt("meta_state", err)
	}
	if s.NextLogID, err = readU64(r); err != nil {
		return nil, corrupt("meta_state", err)
	}
	if s.WriterEpoch, err = readU64(r); err != nil {
		return nil, corrupt("meta_state", err)
	}
	return s, nil
}
