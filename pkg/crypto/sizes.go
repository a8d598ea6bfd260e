package crypto

// HDCP 2.2 field sizes in bytes.
const (
	KmSize         = 16  // master key
	KdSize         = 32  // dkey0 || dkey1
	KsSize         = 16  // session key
	DKeySize       = 16  // single derived key
	RtxSize        = 8   // transmitter nonce
	RrxSize        = 8   // receiver nonce
	RnSize         = 8   // locality check nonce
	RivSize        = 8   // cipher initialization vector
	MSize          = 16  // rtx || rrx, sent with AKE_Stored_km
	ReceiverIDSize = 5   // 40-bit receiver id
	RxCapsSize     = 3
	TxCapsSize     = 3
	KpubRxSize     = 131 // 1024-bit modulus || 24-bit exponent
	CertRxSize     = 522
	CertSignedSize = 138 // receiver id || kpub || reserved
	DCPSigSize     = 384 // DCP LLC RSA-3072 signature
	EkpubKmSize    = 128
	HprimeSize     = 32
	LprimeSize     = 32
	VSize          = 32
	VHalfSize      = 16
	MprimeSize     = 32
	SeqNumSize     = 3
	RxInfoSize     = 2
	EdkeyKsSize    = 16
)

// Receiver certificate layout offsets.
const (
	CertReceiverIDOffset = 0
	CertKpubOffset       = ReceiverIDSize
	CertSigOffset        = CertSignedSize
)
