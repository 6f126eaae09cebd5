package codec

import (
	"bytes"

	"github.com/chainidx/finalidx/core"
)

// EncodeTopic0Mode serializes a hybrid-policy decision for storage at
// topic0_mode/{sig}.
//
// Layout: version(1) | log_enabled(1) | enabled_from_block(8).
func EncodeTopic0Mode(m *core.Topic0Mode) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionTopic0Mode)
	if m.LogEnabled {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeU64(buf, m.EnabledFromBlock)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func DecodeTopic0Mode(data []byte) (*core.Topic0Mode, error) {
	payload, err := checkVersion("topic0_mode", data, versionTopic0Mode)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	m := &core.Topic0Mode{}
	enabled, err := r.ReadByte()
	if err != nil {
		return nil, corrupt("topic0_mode", err)
	}
	m.LogEnabled = enabled != 0
	if m.EnabledFromBlock, err = readU64(r); err != nil {
		return nil, corrupt("topic0_mode", err)
	}
	return m, nil
}

// EncodeTopic0Stats serializes the rolling-window state for storage at
// topic0_stats/{sig}.
//
// Layout: version(1) | window_len(4) | blocks_seen_in_window(4) |
// ring_cursor(4) | ring_bits_len(4) | ring_bits.
func EncodeTopic0Stats(s *core.Topic0Stats) []byte {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionTopic0Stats)
	writeU32(buf, s.WindowLen)
	writeU32(buf, s.BlocksSeenInWindow)
	writeU32(buf, s.RingCursor)
	writeU32(buf, uint32(len(s.RingBits)))
	buf.Write(s.RingBits)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func DecodeTopic0Stats(data []byte) (*core.Topic0Stats, error) {
	payload, err := checkVersion("topic0_stats", data, versionTopic0Stats)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	s := &core.Topic0Stats{}
	if s.WindowLen, err = readU32(r); err != nil {
		return nil, corrupt("topic0_stats", err)
	}
	if s.BlocksSeenInWindow, err = readU32(r); err != nil {
		return nil, corrupt("topic0_stats", err)
	}
	if s.RingCursor, err = readU32(r); err != nil {
		return nil, corrupt("topic0_stats", err)
	}
	ringLen, err := readU32(r)
	if err != nil {
		return nil, corrupt("topic0_stats", err)
	}
	s.RingBits = make([]byte, ringLen)
	if ringLen > 0 {
		if _, err := readFull(r, s.RingBits); err != nil {
			return nil, corrupt("topic0_stats", err)
		}
	}
	return s, nil
}
