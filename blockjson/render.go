package blockjson

import (
	"encoding/json"

	"github.com/OdyseeTeam/blockjson/chain"
	"github.com/OdyseeTeam/blockjson/coin"

	"github.com/cockroachdb/errors"
)

// Marshal renders block as a JSON document.
func Marshal(block *chain.Block) ([]byte, error) {
	doc, err := ToJSON(block)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	return b, errors.WithStack(err)
}

// ToJSON builds the JSON document for block, including the derived hash,
// size and merkle tree fields. If any transaction can't be rendered the
// whole block fails.
func ToJSON(block *chain.Block) (*Block, error) {
	if block == nil || block.Header == nil {
		return nil, errors.New("block has no header")
	}
	h := block.Header

	doc := &Block{
		Hash:       block.Hash().String(),
		Version:    u32(h.Version),
		PrevBlock:  str(h.PrevBlockHash.String()),
		MerkleRoot: str(h.MerkleRoot.String()),
		Time:       u32(h.Time()),
		Bits:       u32(h.Bits),
		Nonce:      u32(h.Nonce),
		TxCount:    u64(uint64(len(block.Transactions))),
		Size:       block.Size,
	}

	for _, tx := range block.Transactions {
		t, err := transactionToJSON(tx)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %s", tx.Hash)
		}
		doc.Tx = append(doc.Tx, t)
	}

	for _, node := range block.MerkleTree() {
		doc.MerkleTree = append(doc.MerkleTree, node.String())
	}

	return doc, nil
}

func transactionToJSON(tx chain.Transaction) (Transaction, error) {
	t := Transaction{
		Hash:        tx.Hash.String(),
		Version:     u32(tx.Version),
		InputCount:  u64(uint64(len(tx.Inputs))),
		OutputCount: u64(uint64(len(tx.Outputs))),
		LockTime:    u32(tx.LockTime),
		Size:        tx.Size,
		In:          make([]Input, 0, len(tx.Inputs)),
		Out:         make([]Output, 0, len(tx.Outputs)),
	}

	for n, in := range tx.Inputs {
		i := Input{
			PrevOut: &Outpoint{
				Hash: str(in.PrevTxHash.String()),
				N:    u32(in.PrevTxIndex),
			},
		}

		if in.IsCoinbase() {
			// coinbase data is free-form, so it is shown as is (or as hex)
			// rather than disassembled
			i.Coinbase = str(coinbaseText(in.Script))
		} else {
			text, err := in.Script.Text()
			if err != nil {
				return Transaction{}, errors.WithMessagef(err, "input %d", n)
			}
			i.ScriptSig = str(text)
		}

		t.In = append(t.In, i)
	}

	for n, out := range tx.Outputs {
		text, err := out.PKScript.Text()
		if err != nil {
			return Transaction{}, errors.WithMessagef(err, "output %d", n)
		}
		value := Value(coin.FormatUnits(out.Amount, coin.JSONValueDecimals))
		t.Out = append(t.Out, Output{Value: &value, ScriptPubKey: str(text)})
	}

	return t, nil
}

func coinbaseText(s chain.Script) string {
	if s.IsText() {
		return string(s)
	}
	return s.String()
}

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }
