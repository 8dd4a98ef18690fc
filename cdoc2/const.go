// Package cdoc2 implements the CDoc2 container: binary FlatBuffer header,
// ChaCha20-Poly1305 payload, deflate+TAR file bundling.
package cdoc2

// Label is the 6-byte magic that opens every CDoc2 file: "CDOC" followed
// by a version byte and a reserved byte.
var Label = []byte{'C', 'D', 'O', 'C', 0x02, 0x00}

const (
	KeyLen   = 32
	NonceLen = 12
	TagLen   = 16
	HMACLen  = 32
)

const (
	infoCEK       = "CDOC20cek"
	infoHMAC      = "CDOC20hmac"
	saltKEKPremaster = "CDOC20kekpremaster"
	infoKEKPrefix = "CDOC20kek"
	infoSymPrefix = "CDOC20"
	aadPrefix     = "CDOC20payload"
)
