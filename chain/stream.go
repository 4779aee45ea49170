package chain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/OdyseeTeam/blockjson/varint"

	"github.com/cockroachdb/errors"
	"github.com/lbryio/lbcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
)

const (
	blockHeaderLength = 80

	// MaxBlockSize bounds the size prefix in block files so a corrupt prefix
	// can't make us allocate gigabytes.
	MaxBlockSize = 32 << 20
)

// ErrTrailingBytes is returned when bytes remain after a complete block.
var ErrTrailingBytes = errors.New("trailing bytes after block")

// NewBlockFromBytes parses a block in wire format. The whole slice must be
// used up by the block.
func NewBlockFromBytes(b []byte) (*Block, error) {
	r := bytes.NewReader(b)

	block, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, errors.Wrapf(ErrTrailingBytes, "%d bytes left after %d transactions", r.Len(), len(block.Transactions))
	}

	block.Size = uint32(len(b))
	return block, nil
}

type BlockFile struct {
	filename    string
	firstHeight uint64
	magic       []byte

	file       *os.File
	closed     bool
	currHeight uint64
}

func (bf BlockFile) Filename() string {
	return bf.filename
}

func (bf *BlockFile) Offset() int64 {
	if bf.file == nil {
		return 0
	}
	offset, err := bf.file.Seek(0, io.SeekCurrent)
	if err != nil {
		logrus.Errorf("%+v", errors.Wrap(err, "file offset"))
	}
	return offset
}

func (bf *BlockFile) Close() error {
	if bf.closed || bf.file == nil {
		bf.closed = true
		return nil
	}

	bf.closed = true

	err := bf.file.Close()
	return errors.Wrap(err, "closing block file")
}

// NextBlock reads the next block from the file. It returns io.EOF once the
// file has no more blocks.
func (bf *BlockFile) NextBlock() (*Block, error) {
	var err error

	if bf.closed {
		return nil, errors.New("blockfile closed")
	}

	if bf.file == nil {
		bf.file, err = os.OpenFile(bf.filename, os.O_RDONLY, 0)
		if err != nil {
			return nil, errors.Wrap(err, "opening block file")
		}
		bf.currHeight = bf.firstHeight
	}

	err = consumeUntilNextBlock(bf.file, bf.magic)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, errors.WithMessagef(err, "file %s, offset %d", bf.filename, bf.Offset())
	}

	blockSize, err := readUint32(bf.file)
	if err != nil {
		return nil, unexpected(err)
	}
	if blockSize > MaxBlockSize {
		return nil, errors.Newf("block size %d at offset %d is larger than %d", blockSize, bf.Offset(), MaxBlockSize)
	}

	data, err := read(bf.file, int(blockSize))
	if err != nil {
		return nil, unexpected(err)
	}

	block, err := NewBlockFromBytes(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %s, offset %d", bf.filename, bf.Offset())
	}

	// blocks are not stored strictly in height order within a file, so this is
	// only an approximation. the index has the real heights.
	block.Height = bf.currHeight
	bf.currHeight++

	return block, nil
}

func readBlock(r *bytes.Reader) (*Block, error) {
	var err error
	block := &Block{}

	block.Header, err = readHeader(r)
	if err != nil {
		return nil, unexpected(err)
	}

	// a bare header is a valid block with no transactions
	if r.Len() == 0 {
		return block, nil
	}

	txCnt, err := varint.Read(r)
	if err != nil {
		return nil, unexpected(err)
	}
	if txCnt > uint64(r.Len()) {
		return nil, errors.Newf("transaction count %d is more than the %d bytes left", txCnt, r.Len())
	}

	block.Transactions, err = readTransactions(r, int(txCnt))
	if err != nil {
		return nil, unexpected(err)
	}

	return block, nil
}

func readTransactions(r *bytes.Reader, txCount int) ([]Transaction, error) {
	var err error
	transactions := make([]Transaction, txCount)

	txBytes := bytebufferpool.Get()
	defer bytebufferpool.Put(txBytes)

	for i := 0; i < txCount; i++ {
		tx := Transaction{}
		start := r.Len()

		txBytes.Reset()
		txReader := io.TeeReader(r, txBytes)

		tx.Version, err = readUint32(txReader)
		if err != nil {
			return nil, err
		}

		// reading from r instead of txReader because we don't know if we're about to
		// read the inputCount or the segwit marker
		// txid:   doubleSHA([nVersion][txins][txouts][nLockTime])
		// wtxid:  doubleSHA([nVersion][marker][flag][txins][txouts][witness][nLockTime])
		// https://en.bitcoin.it/wiki/BIP_0141#Transaction_ID
		inputCountOrMarker, err := varint.Read(r)
		if err != nil {
			return nil, err
		}

		if inputCountOrMarker == 0 {
			// if 0 inputs, then what we actually read was the marker
			tx.IsSegWit = true

			flag, err := readByte(r)
			if err != nil {
				return nil, err
			}
			if flag != 0x01 {
				return nil, errors.Newf("tx %d: segwit marker found but flag is 0x%02x", i, flag)
			}

			tx.InputCount, err = varint.Read(txReader)
			if err != nil {
				return nil, err
			}
		} else {
			tx.InputCount = inputCountOrMarker
			// write the count back to txBytes so the tx hash is correct
			err = varint.Write(txBytes, tx.InputCount)
			if err != nil {
				return nil, err
			}
		}

		if tx.InputCount > uint64(r.Len()) {
			return nil, errors.Newf("tx %d: input count %d is more than the %d bytes left", i, tx.InputCount, r.Len())
		}
		tx.Inputs, err = readInputs(txReader, int(tx.InputCount))
		if err != nil {
			return nil, errors.WithMessagef(err, "tx %d", i)
		}

		tx.OutputCount, err = varint.Read(txReader)
		if err != nil {
			return nil, err
		}
		if tx.OutputCount > uint64(r.Len()) {
			return nil, errors.Newf("tx %d: output count %d is more than the %d bytes left", i, tx.OutputCount, r.Len())
		}

		tx.Outputs, err = readOutputs(txReader, int(tx.OutputCount))
		if err != nil {
			return nil, errors.WithMessagef(err, "tx %d", i)
		}

		if tx.IsSegWit {
			// dont use txReader because witness data is not part of txid
			for n := range tx.Inputs {
				tx.Inputs[n].Witness, err = readWitness(r)
				if err != nil {
					return nil, errors.WithMessagef(err, "tx %d input %d witness", i, n)
				}
			}
		}

		tx.LockTime, err = readUint32(txReader)
		if err != nil {
			return nil, err
		}

		tx.Hash = chainhash.DoubleHashH(txBytes.Bytes())
		tx.Size = uint32(start - r.Len())
		transactions[i] = tx
	}

	return transactions, nil
}

func readInputs(r io.Reader, inputCount int) ([]Input, error) {
	inputs := make([]Input, 0, inputCount)
	for i := 0; i < inputCount; i++ {
		in := Input{}

		buf, err := read(r, chainhash.HashSize)
		if err != nil {
			return nil, err
		}
		copy(in.PrevTxHash[:], buf)

		in.PrevTxIndex, err = readUint32(r)
		if err != nil {
			return nil, err
		}

		in.Script, err = readScript(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "input %d script", i)
		}

		in.Sequence, err = readUint32(r)
		if err != nil {
			return nil, err
		}

		inputs = append(inputs, in)
	}
	return inputs, nil
}

func readOutputs(r io.Reader, outputCount int) ([]Output, error) {
	outputs := make([]Output, 0, outputCount)
	for i := 0; i < outputCount; i++ {
		var err error
		out := Output{}

		out.Amount, err = readUint64(r)
		if err != nil {
			return nil, err
		}

		out.PKScript, err = readScript(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "output %d script", i)
		}

		outputs = append(outputs, out)
	}

	return outputs, nil
}

func readWitness(r io.Reader) (Witness, error) {
	itemCount, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	if itemCount > MaxBlockSize {
		return nil, errors.Newf("%d witness items", itemCount)
	}

	witness := make(Witness, itemCount)
	for i := range witness {
		witness[i], err = readScript(r)
		if err != nil {
			return nil, err
		}
	}
	return witness, nil
}

func readScript(r io.Reader) (Script, error) {
	scriptLength, err := varint.Read(r)
	if err != nil {
		return nil, err
	}
	if scriptLength > MaxBlockSize {
		return nil, errors.Newf("script length %d is larger than a block", scriptLength)
	}
	return read(r, int(scriptLength))
}

func readHeader(r io.Reader) (*Header, error) {
	header := &Header{}

	headerBytes, err := read(r, blockHeaderLength)
	if err != nil {
		return nil, err
	}

	header.Bytes = headerBytes
	header.BlockHash = chainhash.DoubleHashH(headerBytes)
	header.Version = binary.LittleEndian.Uint32(headerBytes[0:4])
	copy(header.PrevBlockHash[:], headerBytes[4:36])
	copy(header.MerkleRoot[:], headerBytes[36:68])
	header.TimeStamp = time.Unix(int64(binary.LittleEndian.Uint32(headerBytes[68:72])), 0)
	header.Bits = binary.LittleEndian.Uint32(headerBytes[72:76])
	header.Nonce = binary.LittleEndian.Uint32(headerBytes[76:80])

	return header, nil
}

// https://en.bitcoin.it/wiki/Protocol_documentation#Message_structure
var MainNetMagic = []byte{0xf9, 0xbe, 0xb4, 0xd9}

// consumeUntilNextBlock consumes 0x00 bytes until it finds the next set of magic bytes
// looks like the .blk files sometimes just have stretches of 0s in them...
func consumeUntilNextBlock(r io.Reader, magic []byte) error {
	var firstByte byte

	b, err := read(r, len(magic))
	if err != nil {
		return err
	} else if bytes.Equal(b, magic) {
		// exit fast for the most common case
		return nil
	}

	if !bytes.Equal(b, make([]byte, len(magic))) {
		return errors.Newf("expected magic bytes %s, got %s", hex.EncodeToString(magic), hex.EncodeToString(b))
	}

	// continue consuming the 0x00 bytes one by one
	for {
		firstByte, err = readByte(r)
		if err != nil {
			// zero padding running to the end of the file is not an error
			return err
		}

		if firstByte != 0x00 {
			break
		}
	}

	// after getting through all of the 0x00 bytes, check again for magic bytes
	rest, err := read(r, len(magic)-1)
	if err != nil {
		return unexpected(err)
	}

	if firstByte != magic[0] || !bytes.Equal(magic[1:], rest) {
		return errors.Newf("expected magic bytes %s, got %s", hex.EncodeToString(magic),
			hex.EncodeToString(append([]byte{firstByte}, rest...)))
	}

	return nil
}

func readUint64(r io.Reader) (uint64, error) {
	buf, err := read(r, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func readUint32(r io.Reader) (uint32, error) {
	buf, err := read(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func readByte(r io.Reader) (byte, error) {
	buf, err := read(r, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func read(r io.Reader, numBytes int) ([]byte, error) {
	b := make([]byte, numBytes)
	if numBytes == 0 {
		return b, nil
	}

	n, err := io.ReadFull(r, b)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "expected to read %d bytes, only got %d", numBytes, n)
	}

	return b, nil
}

// unexpected turns a clean EOF into ErrUnexpectedEOF. Inside a block running
// out of bytes always means the block is cut short.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.Wrap(io.ErrUnexpectedEOF, "block truncated")
	}
	return err
}

// ReverseBytes reverses a byte slice. useful for switching endian-ness
func ReverseBytes(b []byte) []byte {
	r := make([]byte, len(b))
	for left, right := 0, len(b)-1; left <= right; left, right = left+1, right-1 {
		r[left], r[right] = b[right], b[left]
	}
	return r
}
