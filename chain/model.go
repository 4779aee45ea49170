package chain

import (
	"math"
	"time"

	"github.com/lbryio/lbcd/chaincfg/chainhash"
)

type Block struct {
	Height       uint64
	Size         uint32
	Header       *Header
	Transactions []Transaction
}

// Hash is the block id, i.e. the hash of the header.
func (b Block) Hash() chainhash.Hash { return b.Header.BlockHash }

func (b Block) String() string { return b.Header.BlockHash.String() }

// TxHashes returns the transaction ids in block order.
func (b Block) TxHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash
	}
	return hashes
}

// MerkleTree returns every node of the block's merkle tree, leaves first.
func (b Block) MerkleTree() []chainhash.Hash {
	return BuildMerkleTree(b.TxHashes())
}

type Header struct {
	Bytes         []byte
	Version       uint32
	Bits          uint32
	Nonce         uint32
	TimeStamp     time.Time
	BlockHash     chainhash.Hash
	PrevBlockHash chainhash.Hash
	MerkleRoot    chainhash.Hash
}

// Time returns the header timestamp as it appears on the wire.
func (h Header) Time() uint32 { return uint32(h.TimeStamp.Unix()) }

type Transaction struct {
	Hash        chainhash.Hash
	Size        uint32
	Version     uint32
	IsSegWit    bool
	InputCount  uint64
	Inputs      []Input
	OutputCount uint64
	Outputs     []Output
	LockTime    uint32
}

// Witness is the witness stack of one input.
type Witness [][]byte

type Input struct {
	PrevTxHash  chainhash.Hash
	PrevTxIndex uint32
	Script      Script
	Sequence    uint32
	Witness     Witness
}

// IsCoinbase is true for the input that mints new coins. Its outpoint index
// is 0xffffffff since it spends no real output; the hash is not checked.
func (i Input) IsCoinbase() bool {
	return i.PrevTxIndex == math.MaxUint32
}

type Output struct {
	Amount   uint64
	PKScript Script
}
