package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot builds a Merkle tree over the given record hashes and returns
// the root plus the tree height (number of hashing levels; a single leaf has
// height 0). An odd node at any level is paired with itself.
func MerkleRoot(leaves []string) (root string, height int) {
	if len(leaves) == 0 {
		return "", 0
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			sum := sha256.Sum256([]byte(left + right))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		level = next
		height++
	}
	return level[0], height
}
