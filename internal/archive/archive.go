// Package archive packs and unpacks a cache subset as a ZIP file with
// a JSON manifest, for portable transport between machines.
package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/fetch"
	"github.com/scidata-cache/dlcache/internal/hasher"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("archive")

// manifestName is the archive member holding the url -> member path map.
const manifestName = "index.json"

var registerDeflate sync.Once

// useFastDeflate registers klauspost/compress's flate implementation as
// the zip package's DEFLATE codec, in place of the slower standard
// library one.
func useFastDeflate() {
	registerDeflate.Do(func() {
		zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, flate.DefaultCompression)
		})
		zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
			return flate.NewReader(r)
		})
	})
}

// Export writes a ZIP archive to filename containing the blobs for
// urls (all cached URLs if urls is nil), ensuring each is downloaded
// first, deduplicating shared blobs, and writing an index.json
// manifest mapping url -> "cache/<hexdigest>".
func Export(ctx context.Context, client *fetch.Client, lockAttempts int, filename string, urls []string) error {
	useFastDeflate()

	if urls == nil {
		snap, err := index.Read(client.Root, lockAttempts)
		if err != nil {
			return err
		}
		for u := range snap {
			urls = append(urls, u)
		}
	}

	out, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "creating archive %s", filename)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	manifest := make(map[string]string, len(urls))
	added := make(map[string]bool)

	for _, u := range urls {
		localPath, derr := client.Download(ctx, u, fetch.Options{Cache: true})
		if derr != nil {
			return errors.Wrapf(derr, "ensuring %s is cached for export", u)
		}

		digest := filepath.Base(localPath)
		memberName := path.Join("cache", digest)
		manifest[u] = memberName

		if added[memberName] {
			continue
		}
		added[memberName] = true

		if err := copyIntoZip(zw, memberName, localPath); err != nil {
			return err
		}
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "marshaling archive manifest")
	}
	mw, err := zw.Create(manifestName)
	if err != nil {
		return errors.Wrap(err, "creating manifest entry")
	}
	if _, err := mw.Write(manifestBytes); err != nil {
		return errors.Wrap(err, "writing manifest entry")
	}

	log.WithField("archive", filename).WithField("urls", len(urls)).Info("export complete")
	return nil
}

func copyIntoZip(zw *zip.Writer, memberName, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening blob %s", localPath)
	}
	defer src.Close()

	w, err := zw.Create(memberName)
	if err != nil {
		return errors.Wrapf(err, "creating archive member %s", memberName)
	}
	if _, err := io.Copy(w, src); err != nil {
		return errors.Wrapf(err, "writing archive member %s", memberName)
	}
	return nil
}

// Import reads filename's manifest and, for each selected URL (all
// manifest entries if urls is nil), extracts its blob, recomputes the
// digest, and promotes it into the cache via the standard path. If
// updateCache is false, URLs already present in the cache are skipped.
// A member whose recomputed digest disagrees with its filename is
// rejected with ErrCorruptArchive.
func Import(ctx context.Context, root string, lockAttempts, hashBlockSize int, filename string, urls []string, updateCache bool) error {
	useFastDeflate()

	zr, err := zip.OpenReader(filename)
	if err != nil {
		return errors.Wrapf(err, "opening archive %s", filename)
	}
	defer zr.Close()

	var manifestFile *zip.File
	for _, f := range zr.File {
		if f.Name == manifestName {
			manifestFile = f
			break
		}
	}
	if manifestFile == nil {
		return errors.Wrapf(dlerrors.ErrCorruptArchive, "%s missing manifest", filename)
	}

	manifest, err := readManifest(manifestFile)
	if err != nil {
		return err
	}

	selected := urls
	if selected == nil {
		for u := range manifest {
			selected = append(selected, u)
		}
	}

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}

	for _, u := range selected {
		memberName, ok := manifest[u]
		if !ok {
			continue
		}
		if !updateCache {
			if _, lerr := index.Lookup(root, lockAttempts, u); lerr == nil {
				continue
			}
		}

		f, ok := members[memberName]
		if !ok {
			return errors.Wrapf(dlerrors.ErrCorruptArchive, "%s: missing member %s", u, memberName)
		}

		if err := extractAndPromote(root, lockAttempts, hashBlockSize, u, memberName, f); err != nil {
			return err
		}
	}

	log.WithField("archive", filename).WithField("urls", len(selected)).Info("import complete")
	return nil
}

func readManifest(f *zip.File) (map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrap(err, "opening manifest")
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	var manifest map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrapf(dlerrors.ErrCorruptArchive, "malformed manifest: %v", err)
	}
	return manifest, nil
}

func extractAndPromote(root string, lockAttempts, hashBlockSize int, url, memberName string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening archive member %s", memberName)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(root, "dlcache-import-*.part")
	if err != nil {
		return errors.Wrap(err, "creating temp extraction file")
	}
	tmpPath := tmp.Name()

	h := newHashWriter(hashBlockSize)
	if _, err := io.Copy(io.MultiWriter(tmp, h), rc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "extracting %s", memberName)
	}
	tmp.Close()

	digest := h.HexDigest()
	expected := path.Base(memberName)
	if digest != expected {
		os.Remove(tmpPath)
		return errors.Wrapf(dlerrors.ErrCorruptArchive, "%s: digest %s does not match member name %s", url, digest, expected)
	}

	return promoteImported(root, lockAttempts, url, tmpPath, digest)
}

// promoteImported mirrors fetch.Client.promote but is intentionally
// reimplemented here against a bare root + digest rather than a
// *fetch.Client, since import does not perform a network fetch.
func promoteImported(root string, lockAttempts int, url, tmpPath, digest string) error {
	finalPath := filepath.Join(root, digest)
	return index.Write(root, lockAttempts, func(w *index.Writer) error {
		prior, hadPrior, gerr := w.Get(url)
		if gerr != nil {
			os.Remove(tmpPath)
			return gerr
		}

		if _, statErr := os.Stat(finalPath); statErr != nil {
			if rerr := os.Rename(tmpPath, finalPath); rerr != nil {
				os.Remove(tmpPath)
				return errors.Wrapf(rerr, "promoting imported blob %s", tmpPath)
			}
		} else {
			os.Remove(tmpPath)
		}

		if serr := w.Set(url, finalPath); serr != nil {
			return serr
		}

		if hadPrior && prior != finalPath {
			refs, cerr := w.ReferenceCount(prior)
			if cerr != nil {
				return cerr
			}
			if refs == 0 {
				_ = os.Remove(prior)
			}
		}
		return nil
	})
}

func newHashWriter(_ int) *hasher.StreamHasher {
	return hasher.NewStreamHasher()
}
