// Package blockjson converts blocks between their wire encoding and the
// block explorer JSON format:
//
//	{
//	  "hash": "00000000...", "ver": 1, "prev_block": "...", "mrkl_root": "...",
//	  "time": 1231006505, "bits": 486604799, "nonce": 2083236893, "n_tx": 1, "size": 285,
//	  "tx": [{
//	    "hash": "...", "ver": 1, "vin_sz": 1, "vout_sz": 1, "lock_time": 0, "size": 204,
//	    "in":  [{"prev_out": {"hash": "...", "n": 4294967295}, "coinbase": "..."}],
//	    "out": [{"value": "50.00", "scriptPubKey": "... OP_CHECKSIG"}]
//	  }],
//	  "mrkl_tree": ["..."]
//	}
//
// hash, size and mrkl_tree are only produced, never read.
package blockjson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Required fields are pointers so that a missing field can be told apart
// from a zero value.
type Block struct {
	Hash       string        `json:"hash,omitempty"`
	Version    *uint32       `json:"ver"`
	PrevBlock  *string       `json:"prev_block"`
	MerkleRoot *string       `json:"mrkl_root"`
	Time       *uint32       `json:"time"`
	Bits       *uint32       `json:"bits"`
	Nonce      *uint32       `json:"nonce"`
	TxCount    *uint64       `json:"n_tx"`
	Size       uint32        `json:"size,omitempty"`
	Tx         []Transaction `json:"tx,omitempty"`
	MerkleTree []string      `json:"mrkl_tree,omitempty"`
}

type Transaction struct {
	Hash        string   `json:"hash,omitempty"`
	Version     *uint32  `json:"ver"`
	InputCount  *uint64  `json:"vin_sz"`
	OutputCount *uint64  `json:"vout_sz"`
	LockTime    *uint32  `json:"lock_time"`
	Size        uint32   `json:"size,omitempty"`
	In          []Input  `json:"in"`
	Out         []Output `json:"out"`
}

type Input struct {
	PrevOut   *Outpoint `json:"prev_out"`
	ScriptSig *string   `json:"scriptSig,omitempty"`
	Coinbase  *string   `json:"coinbase,omitempty"`
}

type Outpoint struct {
	Hash *string `json:"hash"`
	N    *uint32 `json:"n"`
}

type Output struct {
	Value        *Value  `json:"value"`
	ScriptPubKey *string `json:"scriptPubKey,omitempty"`
}

// Value is a decimal coin amount. It is written as a JSON string but a bare
// JSON number is accepted too; either way the digits are kept exactly as
// written.
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "value")
	}

	switch t := raw.(type) {
	case string:
		*v = Value(t)
	case json.Number:
		*v = Value(t.String())
	default:
		return errors.Newf("value must be a string or number, got %s", data)
	}
	return nil
}

// Parse decodes a JSON block document and checks that it is complete.
func Parse(data []byte) (*Block, error) {
	var doc Block
	if err := json.Unmarshal(data, &doc); err != nil {
		fe := &FormatError{Err: ErrInvalidDocument, Detail: err.Error()}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			fe.Path = typeErr.Field
		}
		return nil, fe
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks that every required field is present and that every
// declared count matches the number of elements given.
func (b *Block) Validate() error {
	switch {
	case b.Version == nil:
		return formatErr("ver", ErrMissingField, "")
	case b.PrevBlock == nil:
		return formatErr("prev_block", ErrMissingField, "")
	case b.MerkleRoot == nil:
		return formatErr("mrkl_root", ErrMissingField, "")
	case b.Time == nil:
		return formatErr("time", ErrMissingField, "")
	case b.Bits == nil:
		return formatErr("bits", ErrMissingField, "")
	case b.Nonce == nil:
		return formatErr("nonce", ErrMissingField, "")
	case b.TxCount == nil:
		return formatErr("n_tx", ErrMissingField, "")
	}

	if *b.TxCount > 0 && b.Tx == nil {
		return formatErr("tx", ErrMissingField, "n_tx is %d", *b.TxCount)
	}
	if *b.TxCount != uint64(len(b.Tx)) {
		return formatErr("tx", ErrCountMismatch, "n_tx is %d but tx has %d elements", *b.TxCount, len(b.Tx))
	}

	for i := range b.Tx {
		if err := b.Tx[i].validate(fmt.Sprintf("tx[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) validate(path string) error {
	switch {
	case t.Version == nil:
		return formatErr(path+".ver", ErrMissingField, "")
	case t.InputCount == nil:
		return formatErr(path+".vin_sz", ErrMissingField, "")
	case t.In == nil:
		return formatErr(path+".in", ErrMissingField, "")
	case t.OutputCount == nil:
		return formatErr(path+".vout_sz", ErrMissingField, "")
	case t.Out == nil:
		return formatErr(path+".out", ErrMissingField, "")
	case t.LockTime == nil:
		return formatErr(path+".lock_time", ErrMissingField, "")
	}

	if *t.InputCount != uint64(len(t.In)) {
		return formatErr(path+".in", ErrCountMismatch, "vin_sz is %d but in has %d elements", *t.InputCount, len(t.In))
	}
	if *t.OutputCount != uint64(len(t.Out)) {
		return formatErr(path+".out", ErrCountMismatch, "vout_sz is %d but out has %d elements", *t.OutputCount, len(t.Out))
	}

	for i, in := range t.In {
		p := fmt.Sprintf("%s.in[%d].prev_out", path, i)
		switch {
		case in.PrevOut == nil:
			return formatErr(p, ErrMissingField, "")
		case in.PrevOut.Hash == nil:
			return formatErr(p+".hash", ErrMissingField, "")
		case in.PrevOut.N == nil:
			return formatErr(p+".n", ErrMissingField, "")
		}
	}

	for i, out := range t.Out {
		if out.Value == nil {
			return formatErr(fmt.Sprintf("%s.out[%d].value", path, i), ErrMissingField, "")
		}
	}
	return nil
}
