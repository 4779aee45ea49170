package chain

import (
	"encoding/hex"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/lbryio/lbcd/txscript"
)

type Script []byte

func (s Script) String() string { return hex.EncodeToString(s) }
func (s Script) Bytes() []byte  { return s }

// IsText reports whether the script reads as text: valid UTF-8 made of
// printable runes, tabs and line breaks. Scripts built from JSON documents
// are stored as their text.
func (s Script) IsText() bool {
	if len(s) == 0 || !utf8.Valid(s) {
		return false
	}
	for _, r := range string(s) {
		switch {
		case r == '\t', r == '\n', r == '\r':
		case !unicode.IsPrint(r):
			return false
		}
	}
	return true
}

// Text returns the human-readable form of the script. Text scripts are
// returned as they are, anything else is disassembled.
func (s Script) Text() (string, error) {
	if len(s) == 0 {
		return "", nil
	}
	if s.IsText() {
		return string(s), nil
	}

	disasm, err := txscript.DisasmString(s)
	if err != nil {
		return "", errors.Wrapf(err, "disassemble script %s", s)
	}
	return disasm, nil
}
