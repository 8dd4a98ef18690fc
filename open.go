// Package cdoc is the public facade over the CDoc1/CDoc2 container codecs:
// format detection, and the Reader/Writer interfaces callers drive.
package cdoc

import (
	"bytes"
	"io"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/cdoc1"
	"github.com/cdoc-project/cdoc/cdoc2"
	"github.com/cdoc-project/cdoc/crypto"
	"github.com/cdoc-project/cdoc/lock"
)

// Format identifies a container's on-disk shape.
type Format int

const (
	UnknownFormat Format = iota
	CDoc1
	CDoc2
)

func (f Format) String() string {
	switch f {
	case CDoc1:
		return "CDoc1"
	case CDoc2:
		return "CDoc2"
	default:
		return "unknown"
	}
}

// Reader is the decryption-side API common to both container formats:
// inspect locks, unwrap an FMK, then stream the decrypted files out.
type Reader interface {
	Locks() []lock.Lock
	DecryptionLockForCert(cert []byte) (lock.Lock, bool)
	GetFMK(l lock.Lock) (crypto.Secret, error)
	BeginDecryption(fmk crypto.Secret) error
	NextFile() (name string, size int64, err error)
	Read(p []byte) (int, error)
	FinishDecryption() error
}

// Sniff inspects the first few bytes of a container (as produced by
// peeking, without consuming the reader) and reports its Format, or
// UnknownFormat if neither codec recognizes it.
func Sniff(peek []byte) Format {
	if len(peek) >= len(cdoc2.Label) && bytes.Equal(peek[:len(cdoc2.Label)], cdoc2.Label) {
		return CDoc2
	}
	if cdoc1.LooksLikeCDoc1(peek) {
		return CDoc1
	}
	return UnknownFormat
}

// Open detects the container format from rs's leading bytes, rewinds, and
// hands off to the matching codec's reader. cb must carry whatever private
// material the container's locks will need; nb is consulted only for
// CDoc2-Server locks (key-server fetch_key).
func Open(rs io.ReadSeeker, cb backend.CryptoBackend, nb backend.NetworkBackend) (Reader, error) {
	peek := make([]byte, 32)
	n, err := io.ReadFull(rs, peek)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, Wrap(InputStreamError, "peeking container header", err)
	}
	peek = peek[:n]
	if _, serr := rs.Seek(0, io.SeekStart); serr != nil {
		return nil, Wrap(InputStreamError, "rewinding after format sniff", serr)
	}

	switch Sniff(peek) {
	case CDoc2:
		return cdoc2.NewReader(rs, cb, nb)
	case CDoc1:
		return cdoc1.NewReader(rs, cb)
	default:
		return nil, New(InvalidParams, "unrecognized container format")
	}
}
