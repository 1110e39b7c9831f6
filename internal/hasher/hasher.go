// Package hasher computes the content digest used to name and
// deduplicate cache blobs.
package hasher

import (
	"crypto/md5" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// DefaultBlockSize is the read chunk size used when no override is
// supplied.
const DefaultBlockSize = 64 * 1024

// HexDigest streams r through MD5 in blocks of blockSize bytes (or
// DefaultBlockSize if blockSize <= 0) and returns the lowercase hex
// digest of its full content.
func HexDigest(r io.Reader, blockSize int) (string, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	h := md5.New() //nolint:gosec
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", errors.Wrap(err, "hashing stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StreamHasher accumulates an MD5 digest over everything written to
// it, for use as one leg of an io.MultiWriter while a stream is copied
// elsewhere (e.g. into a temp file during archive extraction).
type StreamHasher struct {
	h interface {
		Write([]byte) (int, error)
	}
	sum func() []byte
}

// NewStreamHasher returns a ready-to-use StreamHasher.
func NewStreamHasher() *StreamHasher {
	h := md5.New() //nolint:gosec
	return &StreamHasher{h: h, sum: func() []byte { return h.Sum(nil) }}
}

// Write implements io.Writer.
func (s *StreamHasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// HexDigest returns the lowercase hex digest of everything written so
// far.
func (s *StreamHasher) HexDigest() string {
	return hex.EncodeToString(s.sum())
}

// FileHexDigest opens path and returns its MD5 hex digest.
func FileHexDigest(path string, blockSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	defer f.Close()
	return HexDigest(f, blockSize)
}
