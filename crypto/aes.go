package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
)

func newAESKeyLenError(n int) *Error {
	return errf(KindInvalidKeyLength, "AES key must be 16, 24 or 32 bytes, got %d", n)
}

func checkAESKeyLen(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return newAESKeyLenError(len(key))
	}
}

// AESCBCEncrypt pads data with PKCS#7 and encrypts it with AES-CBC using
// the given key and 16-byte IV.
func AESCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if err := checkAESKeyLen(key); err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errf(KindInvalidInput, "CBC IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errf(KindInvalidInput, "aes.NewCipher: %v", err)
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESCBCDecrypt decrypts AES-CBC ciphertext and removes PKCS#7 padding.
func AESCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if err := checkAESKeyLen(key); err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errf(KindInvalidInput, "CBC IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errf(KindInvalidInput, "CBC ciphertext must be a non-zero multiple of %d bytes", aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errf(KindInvalidInput, "aes.NewCipher: %v", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errf(KindPadding, "empty buffer")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > len(data) || n > aes.BlockSize {
		return nil, errf(KindPadding, "invalid PKCS#7 padding")
	}
	if !bytes.Equal(data[len(data)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errf(KindPadding, "invalid PKCS#7 padding")
	}
	return data[:len(data)-n], nil
}

// AESGCMEncrypt encrypts data with AES-GCM under key/iv/aad, returning
// ciphertext with the 16-byte tag appended.
func AESGCMEncrypt(key, iv, aad, data []byte) ([]byte, error) {
	if err := checkAESKeyLen(key); err != nil {
		return nil, err
	}
	if len(iv) != 12 {
		return nil, errf(KindInvalidInput, "GCM IV must be 12 bytes, got %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errf(KindInvalidInput, "aes.NewCipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errf(KindInvalidInput, "cipher.NewGCM: %v", err)
	}
	return gcm.Seal(nil, iv, data, aad), nil
}

// AESGCMDecrypt decrypts AES-GCM ciphertext (data||tag) under key/iv/aad.
func AESGCMDecrypt(key, iv, aad, data []byte) ([]byte, error) {
	if err := checkAESKeyLen(key); err != nil {
		return nil, err
	}
	if len(iv) != 12 {
		return nil, errf(KindInvalidInput, "GCM IV must be 12 bytes, got %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errf(KindInvalidInput, "aes.NewCipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errf(KindInvalidInput, "cipher.NewGCM: %v", err)
	}
	if len(data) < gcm.Overhead() {
		return nil, errf(KindTagMismatch, "GCM ciphertext shorter than tag")
	}
	out, err := gcm.Open(nil, iv, data, aad)
	if err != nil {
		return nil, errf(KindTagMismatch, "GCM authentication failed: %v", err)
	}
	return out, nil
}
