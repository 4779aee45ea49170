package chain

import "github.com/lbryio/lbcd/chaincfg/chainhash"

// BuildMerkleTree returns the leaves followed by each level of the tree up to
// the root, which is the last element. When a level has an odd number of
// nodes the last one is hashed with itself.
func BuildMerkleTree(leaves []chainhash.Hash) []chainhash.Hash {
	if len(leaves) == 0 {
		return nil
	}

	tree := make([]chainhash.Hash, len(leaves), 2*len(leaves))
	copy(tree, leaves)

	var buf [2 * chainhash.HashSize]byte
	levelOffset := 0
	for levelSize := len(leaves); levelSize > 1; levelSize = (levelSize + 1) / 2 {
		for left := 0; left < levelSize; left += 2 {
			right := left + 1
			if right == levelSize {
				right = left
			}
			copy(buf[:chainhash.HashSize], tree[levelOffset+left][:])
			copy(buf[chainhash.HashSize:], tree[levelOffset+right][:])
			tree = append(tree, chainhash.DoubleHashH(buf[:]))
		}
		levelOffset += levelSize
	}

	return tree
}
