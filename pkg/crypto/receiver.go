package crypto

import "math/bits"

// ValidReceiverID reports whether id is a well-formed 40-bit receiver id:
// exactly twenty bits set and twenty clear.
func ValidReceiverID(id []byte) bool {
	if len(id) != ReceiverIDSize {
		return false
	}
	ones := 0
	for _, b := range id {
		ones += bits.OnesCount8(b)
	}
	return ones == 20
}
