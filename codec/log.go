package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/chainidx/finalidx/core"
)

// EncodeLog serializes a Log for storage at logs/{global_log_id}.
//
// Layout: version(1) | global_log_id(8) | address(20) | block_num(8) |
// tx_idx(4) | log_idx(4) | block_hash(32) | topic_count(1) | topics(32 each)
// | data_len(4) | data.
func EncodeLog(l *core.Log) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionLog)
	writeU64(buf, l.GlobalLogID)
	buf.Write(l.Address[:])
	writeU64(buf, l.BlockNum)
	writeU32(buf, l.TxIndex)
	writeU32(buf, l.LogIndex)
	buf.Write(l.BlockHash[:])
	buf.WriteByte(byte(len(l.Topics)))
	for _, t := range l.Topics {
		buf.Write(t[:])
	}
	writeU32(buf, uint32(len(l.Data)))
	buf.Write(l.Data)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// DecodeLog is the inverse of EncodeLog.
func DecodeLog(data []byte) (*core.Log, error) {
	payload, err := checkVersion("log", data, versionLog)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	l := &core.Log{}

	if l.GlobalLogID, err = readU64(r); err != nil {
		return nil, corrupt("log", err)
	}
	if _, err := readFull(r, l.Address[:]); err != nil {
		return nil, corrupt("log", err)
	}
	if l.BlockNum, err = readU64(r); err != nil {
		return nil, corrupt("log", err)
	}
	if l.TxIndex, err = readU32(r); err != nil {
		return nil, corrupt("log", err)
	}
	if l.LogIndex, err = readU32(r); err != nil {
		return nil, corrupt("log", err)
	}
	if _, err := readFull(r, l.BlockHash[:]); err != nil {
		return nil, corrupt("log", err)
	}
	topicCount, err := r.ReadByte()
	if err != nil {
		return nil, corrupt("log", err)
	}
	l.Topics = make([][32]byte, topicCount)
	for i := 0; i < int(topicCount); i++ {
		if _, err := readFull(r, l.Topics[i][:]); err != nil {
			return nil, corrupt("log", err)
		}
	}
	dataLen, err := readU32(r)
	if err != nil {
		return nil, corrupt("log", err)
	}
	l.Data = make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := readFull(r, l.Data); err != nil {
			return nil, corrupt("log", err)
		}
	}
	return l, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func corrupt(kind string, err error) error {
	return &core.CorruptionError{Message: fmt.Sprintf("%s: %v", kind, err)}
}
