package fetch

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format is an archive container or compression detected from content.
type Format string

const (
	FormatPlain Format = "plain"
	FormatTar   Format = "tar"
	FormatGzip  Format = "gzip"
	FormatXz    Format = "xz"
	FormatZstd  Format = "zstd"
	FormatBzip2 Format = "bzip2"
	FormatZip   Format = "zip"
)

var magics = []struct {
	format Format
	prefix []byte
}{
	{FormatGzip, []byte{0x1f, 0x8b}},
	{FormatXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{FormatZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatBzip2, []byte("BZh")},
	{FormatZip, []byte("PK\x03\x04")},
}

// tarMagicOffset is where the "ustar" magic sits in a tar header block.
const tarMagicOffset = 257

// DetectFormat sniffs the leading bytes of an artifact. File names are not
// trusted; mirrors routinely serve archives under the wrong extension.
func DetectFormat(head []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.format
		}
	}
	if len(head) >= tarMagicOffset+5 && string(head[tarMagicOffset:tarMagicOffset+5]) == "ustar" {
		return FormatTar
	}
	return FormatPlain
}

// Extract unpacks archive into dest and returns the root of the extracted
// tree: dest itself, or its only entry when that is a directory. Files that
// are not archives are copied into dest under name.
func Extract(archive, name, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", errors.Wrapf(err, errors.ErrDirCreate, "cannot create %s", dest)
	}

	file, err := os.Open(archive)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrFileAccess, "cannot open %s", archive)
	}
	defer func() { _ = file.Close() }()

	br := bufio.NewReaderSize(file, 1024)
	head, _ := br.Peek(512)
	format := DetectFormat(head)

	switch format {
	case FormatZip:
		err = extractZip(archive, dest)
	case FormatPlain:
		err = copyPlain(br, filepath.Join(dest, filepath.Base(name)))
		if err == nil {
			return dest, nil
		}
	default:
		var r io.Reader
		var closer func()
		r, closer, err = decompressor(format, br)
		if err == nil {
			err = extractTar(tar.NewReader(r), dest)
			closer()
		}
	}
	if err != nil {
		code := errors.GetErrorCode(err)
		if code == errors.ErrUnknown {
			code = errors.ErrFetch
		}
		return "", errors.Wrapf(err, code, "cannot extract %s archive %s", format, name)
	}
	return unwrapSingleDir(dest)
}

func decompressor(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatTar:
		return r, func() {}, nil
	case FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { _ = gz.Close() }, nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() {}, nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case FormatBzip2:
		return bzip2.NewReader(r), func() {}, nil
	}
	return nil, nil, errors.Newf(errors.ErrInvalidInput, "unsupported archive format %s", format)
}

func extractTar(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrFetch, "corrupt tar")
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLinkTarget(dest, target, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return err
			}
		default:
			// pax globals, devices and fifos have no place in a source tree
		}
	}
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return errors.Wrap(err, errors.ErrFetch, "corrupt zip")
	}
	defer func() { _ = zr.Close() }()

	for _, zf := range zr.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		info := zf.FileInfo()
		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()|0700); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return err
			}
			if err := checkLinkTarget(dest, target, string(link)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(string(link), target); err != nil {
				return err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			err = writeFile(target, rc, info.Mode().Perm())
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyPlain(r io.Reader, target string) error {
	return writeFile(target, r, 0644)
}

// safeJoin resolves an archive entry name under dest, rejecting absolute
// names and names that climb out with "..".
func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ErrFetch, "archive entry %q escapes the extraction directory", name).
			WithDetail("entry", name)
	}
	return filepath.Join(dest, clean), nil
}

// checkLinkTarget rejects symlinks that would point outside dest, since a
// later entry could be written through them.
func checkLinkTarget(dest, link, target string) error {
	if filepath.IsAbs(target) {
		return errors.Newf(errors.ErrFetch, "archive symlink %s points to absolute path %s", link, target)
	}
	resolved := filepath.Join(filepath.Dir(link), target)
	rel, err := filepath.Rel(dest, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Newf(errors.ErrFetch, "archive symlink %s escapes the extraction directory", link)
	}
	return nil
}

func unwrapSingleDir(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrFileAccess, "cannot read %s", dest)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}
	return dest, nil
}
