package codec

import (
	"bytes"

	"github.com/chainidx/finalidx/core"
)

// EncodeBlockMeta serializes a BlockMeta for storage at block_meta/{block_num}.
//
// Layout: version(1) | block_num(8) | block_hash(32) | parent_hash(32) |
// first_log_id(8) | count(4).
func EncodeBlockMeta(m *core.BlockMeta) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionBlockMeta)
	writeU64(buf, m.BlockNum)
	buf.Write(m.BlockHash[:])
	buf.Write(m.ParentHash[:])
	writeU64(buf, m.FirstLogID)
	writeU32(buf, m.Count)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func DecodeBlockMeta(data []byte) (*core.BlockMeta, error) {
	payload, err := checkVersion("block_meta", data, versionBlockMeta)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	m := &core.BlockMeta{}
	if m.BlockNum, err = readU64(r); err != nil {
		return nil, corrupt("block_meta", err)
	}
	if _, err := readFull(r, m.BlockHash[:]); err != nil {
		return nil, corrupt("block_meta", err)
	}
	if _, err := readFull(r, m.ParentHash[:]); err != nil {
		return nil, corrupt("block_meta", err)
	}
	if m.FirstLogID, err = readU64(r); err != nil {
		return nil, corrupt("block_meta", err)
	}
	if m.Count, err = readU32(r); err != nil {
		return nil, corrupt("block_meta", err)
	}
	return m, nil
}
