// Package fec implements the forward-error-correction stage of the sender
// pipeline.
//
// Consecutive source packets are grouped into fixed-size blocks of N. Once
// a block is complete, K repair packets are computed with a systematic
// Reed-Solomon erasure code (klauspost/reedsolomon), such that any N of the
// N+K packets are sufficient to reconstruct the block. Repair computation
// is deterministic: the same N source packets always yield identical repair
// bytes.
//
// Shard layout: every source packet is prefixed with its big-endian uint16
// length and zero-padded to the block's shard size, so variable-size RTP
// packets become the equal-size symbols the erasure code requires. Repair
// packets carry a block header (see Header) followed by one parity shard.
//
// Flush policy at session close is pad-and-protect: a partially filled
// block is padded with all-zero shards up to N and protected normally. The
// length prefix of a padding shard is zero, which the receiver discards.
package fec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
	"github.com/sirupsen/logrus"
)

// ErrEncodeFailure indicates an internal erasure-coding fault. The
// computation is pure and deterministic, so a retry would not change the
// outcome; the session must be closed.
var ErrEncodeFailure = errors.New("FEC encode failure")

// Default block geometry for the Reed-Solomon (m=8) scheme.
const (
	DefaultSourceCount = 8
	DefaultRepairCount = 4
)

// maxBlockSymbols is the symbol limit of the GF(2^8) code.
const maxBlockSymbols = 256

// HeaderSize is the encoded size of a repair packet header.
const HeaderSize = 12

// Header describes the block a repair packet belongs to.
//
// Wire layout, big-endian:
//
//	BlockID     uint32
//	BaseSeqNum  uint16
//	Index       uint8
//	SourceCount uint8
//	RepairCount uint8
//	reserved    uint8
//	ShardSize   uint16
type Header struct {
	BlockID     uint32
	BaseSeqNum  uint16
	Index       uint8
	SourceCount uint8
	RepairCount uint8
	ShardSize   uint16
}

// Marshal encodes the header into its wire form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:], h.BlockID)
	binary.BigEndian.PutUint16(buf[4:], h.BaseSeqNum)
	buf[6] = h.Index
	buf[7] = h.SourceCount
	buf[8] = h.RepairCount
	buf[9] = 0
	binary.BigEndian.PutUint16(buf[10:], h.ShardSize)
	return buf
}

// ParseHeader decodes a repair packet into its header and parity shard.
//
// Returns:
//   - Header: the decoded header
//   - []byte: the parity shard following the header
//   - error: if the packet is truncated or inconsistent
func ParseHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("repair packet too short: %d bytes", len(data))
	}
	h := Header{
		BlockID:     binary.BigEndian.Uint32(data[0:]),
		BaseSeqNum:  binary.BigEndian.Uint16(data[4:]),
		Index:       data[6],
		SourceCount: data[7],
		RepairCount: data[8],
		ShardSize:   binary.BigEndian.Uint16(data[10:]),
	}
	shard := data[HeaderSize:]
	if len(shard) != int(h.ShardSize) {
		return Header{}, nil, fmt.Errorf("shard size mismatch: header says %d, got %d",
			h.ShardSize, len(shard))
	}
	return h, shard, nil
}

// PackShard wraps a source packet into an equal-size erasure-code symbol:
// big-endian uint16 length, packet bytes, zero padding.
func PackShard(pkt []byte, size int) []byte {
	shard := make([]byte, size)
	binary.BigEndian.PutUint16(shard, uint16(len(pkt)))
	copy(shard[2:], pkt)
	return shard
}

// UnpackShard recovers the original packet from a symbol. A zero length
// prefix marks a padding shard and yields nil.
func UnpackShard(shard []byte) ([]byte, error) {
	if len(shard) < 2 {
		return nil, fmt.Errorf("shard too short: %d bytes", len(shard))
	}
	n := int(binary.BigEndian.Uint16(shard))
	if n == 0 {
		return nil, nil
	}
	if n > len(shard)-2 {
		return nil, fmt.Errorf("shard length prefix %d exceeds shard size %d", n, len(shard))
	}
	return shard[2 : 2+n], nil
}

// Config holds block geometry for the encoder.
type Config struct {
	// SourceCount is N, the number of source packets per block.
	SourceCount int
	// RepairCount is K, the number of repair packets derived per block.
	RepairCount int
}

// DefaultConfig returns the Reed-Solomon (m=8) defaults.
func DefaultConfig() Config {
	return Config{
		SourceCount: DefaultSourceCount,
		RepairCount: DefaultRepairCount,
	}
}

// Validate checks the block geometry against the limits of the code.
func (c Config) Validate() error {
	if c.SourceCount < 1 {
		return fmt.Errorf("source count must be at least 1, got %d", c.SourceCount)
	}
	if c.RepairCount < 1 {
		return fmt.Errorf("repair count must be at least 1, got %d", c.RepairCount)
	}
	if c.SourceCount+c.RepairCount > maxBlockSymbols {
		return fmt.Errorf("block of %d+%d symbols exceeds the %d symbol limit",
			c.SourceCount, c.RepairCount, maxBlockSymbols)
	}
	return nil
}

// RepairPacket is one redundant packet derived from a full block.
//
// Data is the wire form: Header followed by the parity shard.
type RepairPacket struct {
	BlockID uint32
	Index   uint8
	Data    []byte
}

// BlockEncoder accumulates source packets and emits repair packets once a
// block is complete.
//
// Block identifiers are strictly increasing and a block is never reused.
type BlockEncoder struct {
	mu sync.Mutex

	cfg Config
	rs  reedsolomon.Encoder

	blockID  uint32
	baseSeq  uint16
	haveBase bool
	packets  [][]byte

	blocksEncoded uint64
}

// NewBlockEncoder creates a block encoder with the given geometry.
//
// Parameters:
//   - cfg: block geometry; zero fields take the RS (m=8) defaults
//
// Returns:
//   - *BlockEncoder: the new encoder
//   - error: if the geometry is invalid or the code cannot be constructed
func NewBlockEncoder(cfg Config) (*BlockEncoder, error) {
	if cfg.SourceCount == 0 {
		cfg.SourceCount = DefaultSourceCount
	}
	if cfg.RepairCount == 0 {
		cfg.RepairCount = DefaultRepairCount
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rs, err := reedsolomon.New(cfg.SourceCount, cfg.RepairCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewBlockEncoder",
		"source_count": cfg.SourceCount,
		"repair_count": cfg.RepairCount,
	}).Debug("Created FEC block encoder")

	return &BlockEncoder{cfg: cfg, rs: rs}, nil
}

// Add appends a source packet to the current block.
//
// Parameters:
//   - seqNum: the packet's RTP sequence number
//   - pkt: the marshaled source packet; retained until the block closes
//
// Returns:
//   - []RepairPacket: the block's repair packets when this packet completed
//     the block, nil otherwise
//   - error: ErrEncodeFailure on an internal erasure-coding fault
func (b *BlockEncoder) Add(seqNum uint16, pkt []byte) ([]RepairPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.haveBase {
		b.baseSeq = seqNum
		b.haveBase = true
	}
	b.packets = append(b.packets, pkt)

	if len(b.packets) < b.cfg.SourceCount {
		return nil, nil
	}
	return b.encodeBlock()
}

// Flush protects and emits a partially filled block.
//
// The partial block is padded with all-zero shards to the full source
// count (pad-and-protect policy). An empty block yields nothing.
//
// Returns:
//   - []RepairPacket: repair packets for the padded block, or nil
//   - error: ErrEncodeFailure on an internal erasure-coding fault
func (b *BlockEncoder) Flush() ([]RepairPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) == 0 {
		return nil, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "BlockEncoder.Flush",
		"block_id": b.blockID,
		"packets":  len(b.packets),
		"padding":  b.cfg.SourceCount - len(b.packets),
	}).Debug("Protecting partial block with zero padding")

	return b.encodeBlock()
}

// PendingSource returns the number of source packets in the open block.
func (b *BlockEncoder) PendingSource() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.packets)
}

// BlocksEncoded returns how many blocks have been protected so far.
func (b *BlockEncoder) BlocksEncoded() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.blocksEncoded
}

// encodeBlock computes repair packets for the accumulated source packets
// and resets block state. Caller must hold b.mu.
func (b *BlockEncoder) encodeBlock() ([]RepairPacket, error) {
	shardSize := 2
	for _, pkt := range b.packets {
		if len(pkt)+2 > shardSize {
			shardSize = len(pkt) + 2
		}
	}
	if shardSize > 0xFFFF {
		return nil, fmt.Errorf("%w: shard size %d exceeds uint16", ErrEncodeFailure, shardSize)
	}

	shards := make([][]byte, b.cfg.SourceCount+b.cfg.RepairCount)
	for i := 0; i < b.cfg.SourceCount; i++ {
		if i < len(b.packets) {
			shards[i] = PackShard(b.packets[i], shardSize)
		} else {
			// pad-and-protect: zero shard with zero length prefix
			shards[i] = make([]byte, shardSize)
		}
	}
	for i := b.cfg.SourceCount; i < len(shards); i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := b.rs.Encode(shards); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "BlockEncoder.encodeBlock",
			"block_id": b.blockID,
			"error":    err.Error(),
		}).Error("Erasure encoding failed")
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}

	repair := make([]RepairPacket, b.cfg.RepairCount)
	for i := 0; i < b.cfg.RepairCount; i++ {
		header := Header{
			BlockID:     b.blockID,
			BaseSeqNum:  b.baseSeq,
			Index:       uint8(i),
			SourceCount: uint8(b.cfg.SourceCount),
			RepairCount: uint8(b.cfg.RepairCount),
			ShardSize:   uint16(shardSize),
		}
		data := append(header.Marshal(), shards[b.cfg.SourceCount+i]...)
		repair[i] = RepairPacket{
			BlockID: b.blockID,
			Index:   uint8(i),
			Data:    data,
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "BlockEncoder.encodeBlock",
		"block_id":   b.blockID,
		"shard_size": shardSize,
	}).Debug("Encoded FEC block")

	b.blockID++
	b.blocksEncoded++
	b.packets = nil
	b.haveBase = false

	return repair, nil
}
