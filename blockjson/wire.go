package blockjson

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/OdyseeTeam/blockjson/chain"
	"github.com/OdyseeTeam/blockjson/coin"
	"github.com/OdyseeTeam/blockjson/varint"

	"github.com/cockroachdb/errors"
	"github.com/lbryio/lbcd/chaincfg/chainhash"
	"github.com/valyala/bytebufferpool"
)

// inputSequence is written for every input. The JSON format has no sequence
// field so nothing from the document is carried over.
const inputSequence = math.MaxUint32

// BlockFromJSON builds a block from a JSON document by encoding it to wire
// format and parsing that.
func BlockFromJSON(data []byte) (*chain.Block, error) {
	raw, err := BlockBytesFromJSON(data)
	if err != nil {
		return nil, err
	}
	return FromWire(raw)
}

// FromWire parses wire bytes into a block. Any rejection is marked with
// ErrProtocol.
func FromWire(raw []byte) (*chain.Block, error) {
	block, err := chain.NewBlockFromBytes(raw)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding block"), ErrProtocol)
	}
	return block, nil
}

// BlockBytesFromJSON returns the wire encoding of a JSON block document.
func BlockBytesFromJSON(data []byte) ([]byte, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return BlockBytes(doc)
}

// BlockBytes returns the wire encoding of doc.
//
// Scripts are written as the raw bytes of their JSON text, not compiled or
// hex decoded. Every input gets sequence 0xffffffff regardless of what the
// block originally had.
func BlockBytes(doc *Block) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	e := &encoder{buf: buf}
	if err := e.block(doc); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// HashBytes decodes a 64 character hex hash into wire (reversed) order.
func HashBytes(s string) ([]byte, error) {
	if len(s) != 2*chainhash.HashSize {
		return nil, formatErr("", ErrMalformedHex, "expected %d hex characters, got %d", 2*chainhash.HashSize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, formatErr("", ErrMalformedHex, "%s", err)
	}
	return chain.ReverseBytes(b), nil
}

// HashString is the inverse of HashBytes.
func HashString(wire []byte) string {
	return hex.EncodeToString(chain.ReverseBytes(wire))
}

type encoder struct {
	buf *bytebufferpool.ByteBuffer
}

// write can't fail on a memory buffer. if it ever does, something is very
// wrong and there is no sensible error to hand back.
func (e *encoder) write(p []byte) {
	if _, err := e.buf.Write(p); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "write to in-memory buffer"))
	}
}

func (e *encoder) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.write(b[:])
}

func (e *encoder) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.write(b[:])
}

func (e *encoder) varInt(n uint64) {
	var b [9]byte
	e.write(varint.Append(b[:0], n))
}

func (e *encoder) hash(path, s string) error {
	b, err := HashBytes(s)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return err
	}
	e.write(b)
	return nil
}

func (e *encoder) script(s *string) {
	if s == nil {
		e.varInt(0)
		return
	}
	e.varInt(uint64(len(*s)))
	e.write([]byte(*s))
}

func (e *encoder) block(b *Block) error {
	e.uint32(*b.Version)
	if err := e.hash("prev_block", *b.PrevBlock); err != nil {
		return err
	}
	if err := e.hash("mrkl_root", *b.MerkleRoot); err != nil {
		return err
	}
	e.uint32(*b.Time)
	e.uint32(*b.Bits)
	e.uint32(*b.Nonce)

	// a block without transactions is just the header
	if *b.TxCount == 0 {
		return nil
	}

	e.varInt(*b.TxCount)
	for i := range b.Tx {
		if err := e.transaction(fmt.Sprintf("tx[%d]", i), &b.Tx[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) transaction(path string, t *Transaction) error {
	e.uint32(*t.Version)

	e.varInt(*t.InputCount)
	for i, in := range t.In {
		p := fmt.Sprintf("%s.in[%d]", path, i)
		if err := e.hash(p+".prev_out.hash", *in.PrevOut.Hash); err != nil {
			return err
		}
		e.uint32(*in.PrevOut.N)

		script := in.ScriptSig
		if script == nil {
			script = in.Coinbase
		}
		e.script(script)

		e.uint32(inputSequence)
	}

	e.varInt(*t.OutputCount)
	for i, out := range t.Out {
		p := fmt.Sprintf("%s.out[%d]", path, i)
		units, err := coin.ParseUnits(string(*out.Value), coin.JSONValueDecimals)
		if err != nil {
			kind := ErrInvalidValue
			if errors.Is(err, coin.ErrNonIntegerAmount) {
				kind = ErrNonIntegerValue
			}
			return formatErr(p+".value", kind, "%s", err)
		}
		e.uint64(units)
		e.script(out.ScriptPubKey)
	}

	e.uint32(*t.LockTime)
	return nil
}
