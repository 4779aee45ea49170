package chain

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lbryio/lbcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	genesisHash   = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	genesisTxHash = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	genesisHex    = "01000000000000000000000000000000000000000000000000000000000000000000000" +
		"03ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c" +
		"01" +
		"01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ff" +
		"ff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e20627" +
		"2696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a010000" +
		"00434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4" +
		"f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"
)

func genesisBytes(t *testing.T) []byte {
	b, err := hex.DecodeString(genesisHex)
	require.NoError(t, err)
	require.Len(t, b, 285)
	return b
}

func TestGenesisBlock(t *testing.T) {
	block, err := NewBlockFromBytes(genesisBytes(t))
	require.NoError(t, err)

	assert.Equal(t, genesisHash, block.Hash().String())
	assert.EqualValues(t, 285, block.Size)
	assert.EqualValues(t, 1, block.Header.Version)
	assert.Equal(t, chainhash.Hash{}, block.Header.PrevBlockHash)
	assert.Equal(t, genesisTxHash, block.Header.MerkleRoot.String())
	assert.EqualValues(t, 1231006505, block.Header.Time())
	assert.EqualValues(t, 0x1d00ffff, block.Header.Bits)
	assert.EqualValues(t, 2083236893, block.Header.Nonce)

	require.Len(t, block.Transactions, 1)
	tx := block.Transactions[0]
	assert.Equal(t, genesisTxHash, tx.Hash.String())
	assert.EqualValues(t, 204, tx.Size)
	assert.False(t, tx.IsSegWit)
	assert.EqualValues(t, 0, tx.LockTime)

	require.Len(t, tx.Inputs, 1)
	assert.True(t, tx.Inputs[0].IsCoinbase())
	assert.EqualValues(t, 0xffffffff, tx.Inputs[0].Sequence)
	assert.Len(t, tx.Inputs[0].Script, 77)

	require.Len(t, tx.Outputs, 1)
	assert.EqualValues(t, 5_000_000_000, tx.Outputs[0].Amount)
	text, err := tx.Outputs[0].PKScript.Text()
	require.NoError(t, err)
	assert.Equal(t, "04678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5f OP_CHECKSIG", text)

	tree := block.MerkleTree()
	require.Len(t, tree, 1)
	assert.Equal(t, block.Header.MerkleRoot, tree[0])
}

func TestHeaderOnlyBlock(t *testing.T) {
	block, err := NewBlockFromBytes(genesisBytes(t)[:80])
	require.NoError(t, err)
	assert.Equal(t, genesisHash, block.Hash().String())
	assert.Empty(t, block.Transactions)
	assert.EqualValues(t, 80, block.Size)
}

func TestMalformedBlocks(t *testing.T) {
	b := genesisBytes(t)

	_, err := NewBlockFromBytes(append(append([]byte{}, b...), 0x00))
	assert.True(t, errors.Is(err, ErrTrailingBytes), "%v", err)

	for _, cut := range []int{0, 40, 81, 100, 200, 284} {
		_, err = NewBlockFromBytes(b[:cut])
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "cut at %d: %v", cut, err)
	}

	// claims 2 transactions, only has 1
	two := append([]byte{}, b...)
	two[80] = 0x02
	_, err = NewBlockFromBytes(two)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "%v", err)
}

func TestSegwitTransaction(t *testing.T) {
	prev := bytes.Repeat([]byte{0x11}, 32)
	legacyIn := append(append([]byte{0x01}, prev...), 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff)
	out := []byte{0x01, 0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0x01, 0x51}
	version := []byte{0x02, 0, 0, 0}
	lockTime := []byte{0, 0, 0, 0}
	witness := []byte{0x01, 0x02, 0xab, 0xcd}

	var full []byte
	full = append(full, version...)
	full = append(full, 0x00, 0x01)
	full = append(full, legacyIn...)
	full = append(full, out...)
	full = append(full, witness...)
	full = append(full, lockTime...)

	var legacy []byte
	legacy = append(legacy, version...)
	legacy = append(legacy, legacyIn...)
	legacy = append(legacy, out...)
	legacy = append(legacy, lockTime...)

	raw := append(append(genesisBytes(t)[:80:80], 0x01), full...)
	block, err := NewBlockFromBytes(raw)
	require.NoError(t, err)

	require.Len(t, block.Transactions, 1)
	tx := block.Transactions[0]
	assert.True(t, tx.IsSegWit)
	assert.Equal(t, chainhash.DoubleHashH(legacy), tx.Hash)
	assert.EqualValues(t, len(full), tx.Size)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, Witness{{0xab, 0xcd}}, tx.Inputs[0].Witness)
	assert.False(t, tx.Inputs[0].IsCoinbase())
	assert.EqualValues(t, 1000, tx.Outputs[0].Amount)
}

func TestBuildMerkleTree(t *testing.T) {
	a := chainhash.DoubleHashH([]byte("a"))
	b := chainhash.DoubleHashH([]byte("b"))
	c := chainhash.DoubleHashH([]byte("c"))

	tree := BuildMerkleTree([]chainhash.Hash{a, b, c})
	want := []string{
		"d8f244c159278ea8cfffcbe1c463edef33d92d11d36ac3c62efd3eb7ff3a5dbf",
		"b98db090398ebc4342951f9ba89b3e0110bdc757714b80c695663c9060113639",
		"d377b92dd7af8f1b25b2ac96f5ac68d0d8ae0e15fc370f89ea0fa36c3d753266",
		"f01b8b33d4737f715303d502cd8dda6b2ea4f9513c169d94b18b5f2fa1a367b7",
		"3e0a60195218f27df0edc1d5b008568b2754f8a709eb80e3c1412bdfcb3b7e21",
		"bf0ca48d50405f62cb40fa67c6f9fd9309e9a5fcb2ad05d3976ecb28839b4474",
	}
	require.Len(t, tree, len(want))
	for i := range want {
		assert.Equal(t, want[i], tree[i].String(), "node %d", i)
	}

	assert.Nil(t, BuildMerkleTree(nil))
}

func TestScriptText(t *testing.T) {
	text, err := Script("OP_DUP OP_HASH160 abcd").Text()
	require.NoError(t, err)
	assert.Equal(t, "OP_DUP OP_HASH160 abcd", text)

	text, err = Script{0x76, 0xa9}.Text()
	require.NoError(t, err)
	assert.Equal(t, "OP_DUP OP_HASH160", text)

	text, err = Script(nil).Text()
	require.NoError(t, err)
	assert.Equal(t, "", text)

	// push of 5 bytes with only 2 present
	_, err = Script{0x05, 0x01, 0x02}.Text()
	assert.Error(t, err)
}

func TestScriptIsText(t *testing.T) {
	tests := []struct {
		script Script
		text   bool
	}{
		{Script("OP_DUP OP_HASH160 abcd"), true},
		{Script("café ☕"), true},
		{Script("a\tb\r\nc"), true},
		{Script("Q"), true},
		{Script(nil), false},
		{Script{0x76, 0xa9, 0x14}, false},
		{Script{0x00, 0x14}, false},
		{Script("a\x00b"), false},
		{Script{0x63, 0x61, 0x66, 0xc3}, false}, // cut off in the middle of a rune
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, tt.script.IsText(), "% x", []byte(tt.script))
	}

	text, err := Script("a\tb").Text()
	require.NoError(t, err)
	assert.Equal(t, "a\tb", text)
}

func TestIsCoinbase(t *testing.T) {
	assert.True(t, Input{PrevTxIndex: 0xffffffff}.IsCoinbase())
	assert.True(t, Input{PrevTxHash: chainhash.DoubleHashH([]byte("a")), PrevTxIndex: 0xffffffff}.IsCoinbase())
	assert.False(t, Input{PrevTxIndex: 0}.IsCoinbase())
	assert.False(t, Input{PrevTxIndex: 0xfffffffe}.IsCoinbase())
}

func TestReverseBytes(t *testing.T) {
	assert.Equal(t, []byte{3, 2, 1}, ReverseBytes([]byte{1, 2, 3}))
	assert.Equal(t, []byte{4, 3, 2, 1}, ReverseBytes([]byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{}, ReverseBytes([]byte{}))
}

func TestBlockFile(t *testing.T) {
	b := genesisBytes(t)
	header := b[:80]

	var data []byte
	for _, blk := range [][]byte{b, header} {
		data = append(data, MainNetMagic...)
		data = append(data, byte(len(blk)), byte(len(blk)>>8), 0, 0)
		data = append(data, blk...)
		data = append(data, make([]byte, 7)...) // padding between blocks
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blk00000.dat"), data, 0o644))

	reader, err := NewReader(Config{BlocksDir: dir, Workers: 2})
	require.NoError(t, err)

	var blocks []Block
	reader.OnBlock(func(block Block) error {
		blocks = append(blocks, block)
		return nil
	})
	require.NoError(t, reader.Load())

	require.Len(t, blocks, 2)
	assert.EqualValues(t, 0, blocks[0].Height)
	assert.EqualValues(t, 285, blocks[0].Size)
	assert.Len(t, blocks[0].Transactions, 1)
	assert.EqualValues(t, 1, blocks[1].Height)
	assert.Empty(t, blocks[1].Transactions)
	for _, blk := range blocks {
		assert.Equal(t, genesisHash, blk.Hash().String())
	}
}

func TestBlockFileBadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blk00000.dat"), []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644))

	reader, err := NewReader(Config{BlocksDir: dir})
	require.NoError(t, err)
	err = reader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected magic bytes")
}

func TestBase128(t *testing.T) {
	tests := []struct {
		enc  []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x00}, 128},
		{[]byte{0x80, 0x7f}, 255},
		{[]byte{0xfe, 0x7f}, 16383},
		{[]byte{0xff, 0x00}, 16384},
		{[]byte{0x82, 0xfe, 0x7f}, 65535},
	}
	for _, tt := range tests {
		n, offset, err := base128(tt.enc, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n, "% x", tt.enc)
		assert.Equal(t, len(tt.enc), offset)
	}

	_, _, err := base128([]byte{0x80}, 0)
	assert.Error(t, err)
}
