package srm

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"

	hcrypto "github.com/backkem/hdcp/pkg/crypto"
)

// Build produces a signed SRM with one generation per element of gens.
// It is the inverse of Parse and exists for simulators and tests; real SRMs
// are issued by DCP LLC.
func Build(key *rsa.PrivateKey, version uint16, gens ...[][hcrypto.ReceiverIDSize]byte) ([]byte, error) {
	if len(gens) == 0 {
		gens = [][][hcrypto.ReceiverIDSize]byte{nil}
	}
	out := []byte{ID, 0x00, byte(version >> 8), byte(version), byte(len(gens))}

	for i, ids := range gens {
		var g []byte
		if i == 0 {
			length := firstPrefixSize + len(ids)*hcrypto.ReceiverIDSize + hcrypto.DCPSigSize
			g = append(g, byte(length>>16), byte(length>>8), byte(length))
			g = binary.BigEndian.AppendUint32(g, uint32(len(ids))<<22)
		} else {
			length := nextPrefixSize + len(ids)*hcrypto.ReceiverIDSize + hcrypto.DCPSigSize
			g = binary.BigEndian.AppendUint16(g, uint16(length))
			g = binary.BigEndian.AppendUint16(g, uint16(len(ids))<<6)
		}
		for _, id := range ids {
			g = append(g, id[:]...)
		}

		signed := g
		if i == 0 {
			signed = append(append([]byte(nil), out...), g...)
		}
		digest := sha256.Sum256(signed)
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if err != nil {
			return nil, err
		}
		out = append(out, g...)
		out = append(out, sig...)
	}
	return out, nil
}
