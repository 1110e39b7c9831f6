// Package decompress implements the transparent-decompression reader:
// magic-byte sniffing dispatches between raw, gzip, bzip2, and xz
// decoding, with non-seekable inputs buffered fully in memory so the
// sniff-then-rollback probe has something to rewind.
package decompress

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("decompress")

// Codec names a sniffed compression format.
type Codec int

// Recognized codecs, in the order their magic prefixes are checked.
const (
	Raw Codec = iota
	Gzip
	Bzip2
	XZ
)

func (c Codec) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case XZ:
		return "xz"
	default:
		return "raw"
	}
}

var magicPrefixes = []struct {
	codec  Codec
	prefix []byte
}{
	{Gzip, []byte{0x1F, 0x8B, 0x08}},
	{Bzip2, []byte("BZh")},
	{XZ, []byte{0xFD, 0x37, 0x7A}},
}

// Sniff inspects up to the first 4 bytes of prefix and returns the
// matching codec, or Raw if none match.
func Sniff(prefix []byte) Codec {
	for _, m := range magicPrefixes {
		if len(prefix) >= len(m.prefix) && bytes.Equal(prefix[:len(m.prefix)], m.prefix) {
			return m.codec
		}
	}
	return Raw
}

// Options configures Open/OpenReader.
type Options struct {
	// Text, if true, wraps the decoded binary stream in a buffered text
	// reader. The platform-preferred encoding is not modeled separately
	// here: this cache treats all text as UTF-8, matching Go's native
	// string representation, rather than depending on an external
	// encoding-conversion library absent from this codebase's stack.
	Text bool
}

// Reader is a scoped resource: Close closes every stream it opened and
// deletes every temp file it created, leaving caller-owned inputs
// untouched.
type Reader struct {
	io.Reader
	closers  []io.Closer
	tempFile string
	Codec    Codec
}

// Close releases every resource this Reader opened.
func (r *Reader) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.tempFile != "" {
		if err := os.Remove(r.tempFile); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open opens path and returns a decoding Reader over its content.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	r, err := build(f, []io.Closer{f}, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// OpenReader wraps an already-open binary readable. If it does not
// implement io.Seeker, its content is buffered fully into memory first
// (needed for magic-byte sniffing and codec-probe rollback); the
// buffer is not written to a temp file, so no cleanup beyond Close is
// required for that case.
func OpenReader(src io.Reader, opts Options) (*Reader, error) {
	return build(src, nil, opts)
}

// build does the actual sniff/probe/decode-dispatch, shared by Open and
// OpenReader.
func build(src io.Reader, extraClosers []io.Closer, opts Options) (*Reader, error) {
	seeker, ok := src.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(src)
		if err != nil {
			return nil, errors.Wrap(err, "buffering non-seekable input")
		}
		seeker = bytes.NewReader(buf)
	}

	prefix := make([]byte, 4)
	n, _ := io.ReadFull(seeker, prefix)
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seeking to start of input")
	}

	codec := Sniff(prefix[:n])
	decoded, usedCodec, err := probeAndDecode(seeker, codec)
	if err != nil {
		return nil, err
	}

	var out io.Reader = decoded
	if opts.Text {
		out = bufio.NewReader(decoded)
	}

	r := &Reader{Reader: out, Codec: usedCodec}
	r.closers = append(r.closers, extraClosers...)
	return r, nil
}

// probeAndDecode attempts to build the decoder for codec and read one
// byte as a validity probe; on failure it rewinds seeker and falls
// through to raw. Decoders for all three non-raw codecs are built in,
// so it never reports ErrUnsupportedCompression.
func probeAndDecode(seeker io.ReadSeeker, codec Codec) (io.Reader, Codec, error) {
	switch codec {
	case Gzip:
		r, err := gzip.NewReader(seeker)
		if err == nil {
			if probeOneByte(r) {
				if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
					return nil, Raw, errors.Wrap(serr, "rewinding after gzip probe")
				}
				r2, _ := gzip.NewReader(seeker)
				return r2, Gzip, nil
			}
		}
		log.Debug("gzip probe failed, falling back to raw")
	case Bzip2:
		r := bzip2.NewReader(seeker)
		if probeOneByte(r) {
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return nil, Raw, errors.Wrap(serr, "rewinding after bzip2 probe")
			}
			return bzip2.NewReader(seeker), Bzip2, nil
		}
		log.Debug("bzip2 probe failed, falling back to raw")
	case XZ:
		r, err := xz.NewReader(seeker)
		if err == nil {
			if probeOneByte(r) {
				if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
					return nil, Raw, errors.Wrap(serr, "rewinding after xz probe")
				}
				r2, rerr := xz.NewReader(seeker)
				if rerr != nil {
					return nil, Raw, errors.Wrap(rerr, "reopening xz stream")
				}
				return r2, XZ, nil
			}
		}
		log.Debug("xz probe failed, falling back to raw")
	}

	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, Raw, errors.Wrap(err, "rewinding to raw")
	}
	return seeker, Raw, nil
}

// probeOneByte reads a single byte from r, reporting whether decoding
// that far succeeded.
func probeOneByte(r io.Reader) bool {
	buf := make([]byte, 1)
	_, err := r.Read(buf)
	return err == nil || errors.Is(err, io.EOF)
}

// UnsupportedCodecError wraps ErrUnsupportedCompression naming codec.
func UnsupportedCodecError(codec Codec) error {
	return errors.Wrapf(dlerrors.ErrUnsupportedCompression, "%s", codec)
}
