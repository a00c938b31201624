// Package deltasig implements the rolling-signature delta codec: computing
// a compact per-block signature of a file, computing a binary delta of new
// content against an old signature, and applying a delta to old content to
// reproduce the new content.
//
// The wire format is modeled on rsync-style signature/delta framing (see
// the weak/strong block-hash split in rsync's technical report) with a
// BLAKE2b-256 strong hash and a default block size of 4 bytes.
package deltasig

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"vaultchain/pkg/vaulterr"
)

// DefaultBlockSize is the block size used by the vault format.
const DefaultBlockSize = 4

const (
	sigVersion      uint16 = 1
	strongHashBlake uint16 = 0
	weakHashRsync   uint16 = 0

	strongHashSize = 32 // blake2b-256

	// runRecordSize is the on-wire size of one run record: a contiguous
	// span of blocks sharing the same weak+strong hash, stored once as
	// [startIndex(8) | count(8) | weak(4) | strong(32)] rather than once
	// per block. A file with long stretches of identical block content
	// (the common case this format exists to handle well) collapses to a
	// handful of runs instead of one record per block.
	runRecordSize = 8 + 8 + 4 + strongHashSize
)

// BlockHash is one per-block record inside a parsed signature. On the wire,
// consecutive blocks sharing a BlockHash are folded into a single run
// record; ParseSignature expands runs back into one BlockHash per block so
// Delta/Patch can keep matching block-by-block.
type BlockHash struct {
	Index  uint64
	Weak   uint32
	Strong [strongHashSize]byte
}

// Signature is the parsed, queryable form of a signature blob: an index
// from weak checksum to the candidate blocks sharing it, plus the block
// size and an upper bound on the old content's length (block count times
// block size).
type Signature struct {
	BlockSize int
	OldLen    int64
	Blocks    []BlockHash
	byWeak    map[uint32][]int // index into Blocks
}

// Compute produces the signature bytes for r, using block size bs (0
// selects DefaultBlockSize). Runs of consecutive blocks with identical
// content are stored as a single run record, so a highly repetitive file
// (long stretches of unchanged or identical-content blocks) produces a
// signature whose size tracks the number of distinct content runs, not the
// number of blocks.
func Compute(r io.Reader, bs int) ([]byte, error) {
	if bs <= 0 {
		bs = DefaultBlockSize
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var out bytes.Buffer
	header := make([]byte, 10)
	binary.BigEndian.PutUint16(header[0:2], sigVersion)
	binary.BigEndian.PutUint16(header[2:4], strongHashBlake)
	binary.BigEndian.PutUint16(header[4:6], weakHashRsync)
	binary.BigEndian.PutUint32(header[6:10], uint32(bs))
	out.Write(header)

	rec := make([]byte, runRecordSize)
	var runOpen bool
	var runStart, runCount uint64
	var runWeak uint32
	var runStrong [strongHashSize]byte
	flushRun := func() {
		if !runOpen {
			return
		}
		binary.BigEndian.PutUint64(rec[0:8], runStart)
		binary.BigEndian.PutUint64(rec[8:16], runCount)
		binary.BigEndian.PutUint32(rec[16:20], runWeak)
		copy(rec[20:20+strongHashSize], runStrong[:])
		out.Write(rec)
		runOpen = false
	}

	var rc rollingChecksum
	idx := uint64(0)
	for off := 0; off < len(data); off += bs {
		end := min(off+bs, len(data))
		block := data[off:end]
		rc.reset(block)
		weak := rc.value()
		strong := blake2b.Sum256(block)

		if runOpen && weak == runWeak && strong == runStrong {
			runCount++
		} else {
			flushRun()
			runOpen = true
			runStart, runCount = idx, 1
			runWeak, runStrong = weak, strong
		}
		idx++
	}
	flushRun()
	return out.Bytes(), nil
}

// ParseSignature decodes a signature blob produced by Compute (or by a
// compatible predecessor writer) into a queryable Signature, expanding each
// run record back into one BlockHash per block it covers.
func ParseSignature(sig []byte) (*Signature, error) {
	if len(sig) < 10 {
		return nil, fmt.Errorf("signature too short: %w", vaulterr.ErrSignatureFailure)
	}
	version := binary.BigEndian.Uint16(sig[0:2])
	strongID := binary.BigEndian.Uint16(sig[2:4])
	weakID := binary.BigEndian.Uint16(sig[4:6])
	bs := int(binary.BigEndian.Uint32(sig[6:10]))
	if version != sigVersion || strongID != strongHashBlake || weakID != weakHashRsync || bs <= 0 {
		return nil, fmt.Errorf("unrecognized signature header: %w", vaulterr.ErrSignatureFailure)
	}

	rest := sig[10:]
	if len(rest)%runRecordSize != 0 {
		return nil, fmt.Errorf("truncated signature body: %w", vaulterr.ErrSignatureFailure)
	}
	numRuns := len(rest) / runRecordSize

	blockCount := uint64(0)
	for i := 0; i < numRuns; i++ {
		rec := rest[i*runRecordSize : (i+1)*runRecordSize]
		blockCount += binary.BigEndian.Uint64(rec[8:16])
	}

	s := &Signature{
		BlockSize: bs,
		Blocks:    make([]BlockHash, 0, blockCount),
		byWeak:    make(map[uint32][]int, blockCount),
	}
	for i := 0; i < numRuns; i++ {
		rec := rest[i*runRecordSize : (i+1)*runRecordSize]
		start := binary.BigEndian.Uint64(rec[0:8])
		count := binary.BigEndian.Uint64(rec[8:16])
		weak := binary.BigEndian.Uint32(rec[16:20])
		var strong [strongHashSize]byte
		copy(strong[:], rec[20:20+strongHashSize])

		for j := uint64(0); j < count; j++ {
			bh := BlockHash{Index: start + j, Weak: weak, Strong: strong}
			s.byWeak[weak] = append(s.byWeak[weak], len(s.Blocks))
			s.Blocks = append(s.Blocks, bh)
		}
	}
	if n := len(s.Blocks); n > 0 {
		last := s.Blocks[n-1]
		s.OldLen = int64(last.Index)*int64(bs) + int64(bs) // upper bound; patch clamps to actual old content length
	}
	return s, nil
}

// operation tags for the delta wire format.
const (
	opBlockRange byte = iota
	opData
	opHash
)

// Delta computes a binary delta such that Patch(old, delta) reproduces
// newContent, given old's previously computed signature.
func Delta(newContent []byte, oldSig *Signature) ([]byte, error) {
	if oldSig == nil || oldSig.BlockSize <= 0 {
		return nil, fmt.Errorf("delta without signature: %w", vaulterr.ErrNoPredecessorSignature)
	}
	bs := oldSig.BlockSize

	var out bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(bs))
	out.Write(hdr[:])

	var literal bytes.Buffer
	flushLiteral := func() {
		if literal.Len() == 0 {
			return
		}
		var lenBuf [5]byte
		lenBuf[0] = opData
		binary.BigEndian.PutUint32(lenBuf[1:5], uint32(literal.Len()))
		out.Write(lenBuf[:])
		out.Write(literal.Bytes())
		literal.Reset()
	}

	rangeOpen := false
	var rangeStart, rangeEnd uint64
	flushRange := func() {
		if !rangeOpen {
			return
		}
		var buf [17]byte
		buf[0] = opBlockRange
		binary.BigEndian.PutUint64(buf[1:9], rangeStart)
		binary.BigEndian.PutUint64(buf[9:17], rangeEnd)
		out.Write(buf[:])
		rangeOpen = false
	}
	emitBlock := func(idx uint64) {
		if literal.Len() > 0 {
			// The open range precedes the pending literal in the new content.
			flushRange()
			flushLiteral()
		}
		if rangeOpen && idx == rangeEnd+1 {
			rangeEnd = idx
			return
		}
		flushRange()
		rangeOpen = true
		rangeStart, rangeEnd = idx, idx
	}

	n := len(newContent)
	pos := 0
	var rc rollingChecksum
	haveChecksum := false

	for pos < n {
		end := min(pos+bs, n)
		window := newContent[pos:end]
		if len(window) < bs {
			// Trailing partial window can never match a full block; treat as literal.
			literal.Write(window)
			pos = end
			haveChecksum = false
			continue
		}

		if !haveChecksum {
			rc.reset(window)
			haveChecksum = true
		}

		weak := rc.value()
		if matchIdx, matched := continueRange(oldSig, rangeOpen, rangeEnd, weak, window); matched {
			emitBlock(matchIdx)
			pos = end
			haveChecksum = false
			continue
		}
		if candidates, ok := oldSig.byWeak[weak]; ok {
			if matchIdx, matched := matchFirst(oldSig, candidates, window); matched {
				emitBlock(matchIdx)
				pos = end
				haveChecksum = false
				continue
			}
		}

		literal.WriteByte(newContent[pos])
		if pos+bs < n {
			rc.roll(newContent[pos], newContent[pos+bs])
		} else {
			haveChecksum = false
		}
		pos++
	}
	flushRange()
	flushLiteral()

	sum := sha256.Sum256(newContent)
	var hashOp [1 + 32]byte
	hashOp[0] = opHash
	copy(hashOp[1:], sum[:])
	out.Write(hashOp[:])

	return out.Bytes(), nil
}

// continueRange checks, in O(1), whether the block immediately following an
// already-open range (Index == rangeEnd+1) matches window. Blocks is indexed
// in order (Blocks[i].Index == i) since ParseSignature expands runs back into
// one contiguous entry per block, so this is a direct slice lookup rather
// than a scan of byWeak's candidate list. Checking this first, before ever
// consulting byWeak, is what keeps a long run of identical blocks (e.g. a
// stretch of zeros) from costing O(run length) per block: without it, every
// block in the run would rescan the same large candidate list searching for
// the continuation, making Delta quadratic in the run length.
func continueRange(sig *Signature, rangeOpen bool, rangeEnd uint64, weak uint32, window []byte) (uint64, bool) {
	if !rangeOpen {
		return 0, false
	}
	next := rangeEnd + 1
	if next >= uint64(len(sig.Blocks)) {
		return 0, false
	}
	b := &sig.Blocks[next]
	if b.Weak != weak {
		return 0, false
	}
	if b.Strong != blake2b.Sum256(window) {
		return 0, false
	}
	return b.Index, true
}

// matchFirst returns the first candidate block (in signature order) whose
// strong hash equals window's strong hash.
func matchFirst(sig *Signature, candidates []int, window []byte) (uint64, bool) {
	strong := blake2b.Sum256(window)
	for _, ci := range candidates {
		if sig.Blocks[ci].Strong == strong {
			return sig.Blocks[ci].Index, true
		}
	}
	return 0, false
}

// Patch applies delta to oldContent, writing the reconstructed content to out.
func Patch(oldContent []byte, delta []byte, out io.Writer) error {
	if len(delta) < 4 {
		return fmt.Errorf("delta too short: %w", vaulterr.ErrCorruptDelta)
	}
	bs := int(binary.BigEndian.Uint32(delta[0:4]))
	if bs <= 0 {
		return fmt.Errorf("invalid block size in delta: %w", vaulterr.ErrCorruptDelta)
	}
	body := delta[4:]

	h := sha256.New()
	write := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		h.Write(p)
		_, err := out.Write(p)
		return err
	}

	sawHash := false
	for len(body) > 0 {
		switch body[0] {
		case opBlockRange:
			if len(body) < 17 {
				return fmt.Errorf("truncated block-range op: %w", vaulterr.ErrCorruptDelta)
			}
			start := binary.BigEndian.Uint64(body[1:9])
			end := binary.BigEndian.Uint64(body[9:17])
			body = body[17:]
			for idx := start; idx <= end; idx++ {
				lo := int64(idx) * int64(bs)
				hi := lo + int64(bs)
				if lo >= int64(len(oldContent)) {
					return fmt.Errorf("block %d absent from old content: %w", idx, vaulterr.ErrCorruptDelta)
				}
				if hi > int64(len(oldContent)) {
					hi = int64(len(oldContent))
				}
				if err := write(oldContent[lo:hi]); err != nil {
					return fmt.Errorf("write block %d: %w", idx, err)
				}
			}
		case opData:
			if len(body) < 5 {
				return fmt.Errorf("truncated data op: %w", vaulterr.ErrCorruptDelta)
			}
			ln := binary.BigEndian.Uint32(body[1:5])
			body = body[5:]
			if uint32(len(body)) < ln {
				return fmt.Errorf("truncated data payload: %w", vaulterr.ErrCorruptDelta)
			}
			if err := write(body[:ln]); err != nil {
				return fmt.Errorf("write literal data: %w", err)
			}
			body = body[ln:]
		case opHash:
			if len(body) < 33 {
				return fmt.Errorf("truncated hash op: %w", vaulterr.ErrCorruptDelta)
			}
			var want [32]byte
			copy(want[:], body[1:33])
			body = body[33:]
			got := h.Sum(nil)
			if !bytes.Equal(want[:], got) {
				return fmt.Errorf("reconstructed content checksum mismatch: %w", vaulterr.ErrCorruptDelta)
			}
			sawHash = true
		default:
			return fmt.Errorf("unknown delta opcode %d: %w", body[0], vaulterr.ErrCorruptDelta)
		}
	}
	if !sawHash {
		return fmt.Errorf("delta stream missing trailing checksum: %w", vaulterr.ErrCorruptDelta)
	}
	return nil
}
