package crypto

import (
	"crypto/aes"
	"encoding/binary"
)

// defaultIV is the RFC 3394 default initial value A0.
var defaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// aivPrefix is the RFC 5649 alternative initial value prefix (MSB), the
// remaining 4 bytes hold the plaintext's original byte length.
var aivPrefix = [4]byte{0xA6, 0x59, 0x59, 0xA6}

// AESKWWrap wraps data under kek per RFC 3394. When len(data) is not a
// multiple of 8, or is shorter than 16 bytes, the RFC 5649 padded variant
// is used instead.
func AESKWWrap(kek, data []byte) ([]byte, error) {
	if err := checkAESKeyLen(kek); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errf(KindInvalidInput, "key wrap input must not be empty")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errf(KindInvalidInput, "aes.NewCipher: %v", err)
	}
	if len(data)%8 == 0 && len(data) >= 16 {
		return wrapRFC3394(block, defaultIV[:], data), nil
	}
	return wrapRFC5649(block, data), nil
}

// AESKWUnwrap reverses AESKWWrap. RFC 5649 framing is selected
// automatically based on the recovered IV.
func AESKWUnwrap(kek, wrapped []byte) ([]byte, error) {
	if err := checkAESKeyLen(kek); err != nil {
		return nil, err
	}
	if len(wrapped)%8 != 0 || len(wrapped) < 16 {
		return nil, errf(KindInvalidInput, "wrapped key must be a multiple of 8 bytes, at least 16")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errf(KindInvalidInput, "aes.NewCipher: %v", err)
	}

	if len(wrapped) == 16 {
		iv, plain := unwrapSingleBlock(block, wrapped)
		return finishUnwrap(iv, plain)
	}

	iv, plain := unwrapRFC3394(block, wrapped)
	return finishUnwrap(iv, plain)
}

func finishUnwrap(iv [8]byte, plain []byte) ([]byte, error) {
	if iv == defaultIV {
		return plain, nil
	}
	if iv[0] == aivPrefix[0] && iv[1] == aivPrefix[1] && iv[2] == aivPrefix[2] && iv[3] == aivPrefix[3] {
		n := binary.BigEndian.Uint32(iv[4:8])
		if int(n) > len(plain) || int(n) <= len(plain)-8 {
			return nil, errf(KindUnwrap, "RFC 5649 padded length out of range")
		}
		padding := plain[n:]
		for _, b := range padding {
			if b != 0 {
				return nil, errf(KindUnwrap, "RFC 5649 padding not zero")
			}
		}
		return plain[:n], nil
	}
	return nil, errf(KindUnwrap, "key wrap integrity check failed")
}

// wrapRFC3394 implements the standard key wrap algorithm (6.2 in RFC 3394).
func wrapRFC3394(block interface{ Encrypt(dst, src []byte) }, iv []byte, data []byte) []byte {
	n := len(data) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], data[i*8:(i+1)*8])
	}
	var a [8]byte
	copy(a[:], iv)

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Encrypt(buf, buf)
			var t uint64 = uint64(n*j + i)
			copy(a[:], buf[:8])
			xorCounter(&a, t)
			copy(r[i-1][:], buf[8:])
		}
	}
	out := make([]byte, 8+len(data))
	copy(out[:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:8+(i+1)*8], r[i][:])
	}
	return out
}

func unwrapRFC3394(block interface {
	Decrypt(dst, src []byte)
}, wrapped []byte) (iv [8]byte, plain []byte) {
	n := len(wrapped)/8 - 1
	copy(iv[:], wrapped[:8])
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+(i+1)*8])
	}
	a := iv
	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			var t uint64 = uint64(n*j + i)
			xorCounter(&a, t)
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Decrypt(buf, buf)
			copy(a[:], buf[:8])
			copy(r[i-1][:], buf[8:])
		}
	}
	plain = make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(plain[i*8:(i+1)*8], r[i][:])
	}
	return a, plain
}

func xorCounter(a *[8]byte, t uint64) {
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], t)
	for i := range a {
		a[i] ^= tb[i]
	}
}

// wrapRFC5649 implements the padded variant for inputs not a multiple of 8
// bytes, or shorter than 16 bytes.
func wrapRFC5649(block interface{ Encrypt(dst, src []byte) }, data []byte) []byte {
	var iv [8]byte
	copy(iv[:4], aivPrefix[:])
	binary.BigEndian.PutUint32(iv[4:], uint32(len(data)))

	padded := data
	if r := len(data) % 8; r != 0 {
		padded = make([]byte, len(data)+(8-r))
		copy(padded, data)
	}

	if len(padded) == 8 {
		buf := make([]byte, 16)
		copy(buf[:8], iv[:])
		copy(buf[8:], padded)
		block.Encrypt(buf, buf)
		return buf
	}
	return wrapRFC3394(block, iv[:], padded)
}

// unwrapSingleBlock handles the RFC 5649 case where the padded plaintext
// is exactly one 8-byte block (total wrapped length 16 bytes).
func unwrapSingleBlock(block interface {
	Decrypt(dst, src []byte)
}, wrapped []byte) (iv [8]byte, plain []byte) {
	buf := make([]byte, 16)
	block.Decrypt(buf, wrapped)
	copy(iv[:], buf[:8])
	plain = buf[8:]
	return iv, plain
}
