// Package cdoc1 implements the legacy CDoc1 container: an XML-Enc
// EncryptedData element carrying either a single file or an embedded DDOC
// multi-file bundle, decrypted in two passes the way
// original_source/libcdoc/CDoc1Reader.cpp does (first pass harvests
// metadata and recipient keys, second pass extracts CipherValue).
package cdoc1

const xmlencNS = "http://www.w3.org/2001/04/xmlenc#"

const (
	algAES128CBC = xmlencNS + "aes128-cbc"
	algAES192CBC = xmlencNS + "aes192-cbc"
	algAES256CBC = xmlencNS + "aes256-cbc"
	algAES128GCM = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	algAES192GCM = "http://www.w3.org/2009/xmlenc11#aes192-gcm"
	algAES256GCM = "http://www.w3.org/2009/xmlenc11#aes256-gcm"

	algKWAES128 = xmlencNS + "kw-aes128"
	algKWAES192 = xmlencNS + "kw-aes192"
	algKWAES256 = xmlencNS + "kw-aes256"

	algRSA15 = xmlencNS + "rsa-1_5"
)

const (
	mimeZlib    = "http://www.isi.edu/in-noes/iana/assignments/media-types/application/zip"
	mimeDDOC    = "http://www.sk.ee/DigiDoc/v1.3.0/digidoc.xsd"
	mimeDDOCOld = "http://www.sk.ee/DigiDoc/1.3.0/digidoc.xsd"
)

// cipherSpec describes one accepted EncryptionMethod algorithm URI: its
// key length in bytes and whether it is AEAD (GCM) or needs padding (CBC).
type cipherSpec struct {
	keyLen int
	gcm    bool
}

var cipherMethods = map[string]cipherSpec{
	algAES128CBC: {16, false},
	algAES192CBC: {24, false},
	algAES256CBC: {32, false},
	algAES128GCM: {16, true},
	algAES192GCM: {24, true},
	algAES256GCM: {32, true},
}

var kwMethods = map[string]int{
	algKWAES128: 16,
	algKWAES192: 24,
	algKWAES256: 32,
}

func isDDOCMime(mime string) bool {
	return mime == mimeDDOC || mime == mimeDDOCOld
}
