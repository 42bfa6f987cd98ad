// Package archive packs batch input trees into zip archives and unpacks them
// on workers. Every archive holds a single top-level directory named after
// the batch id; member paths below it are relative to the packed root.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
)

// FormatError reports a blob that is not a usable archive.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid archive %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Archive is a packed batch on local disk. The caller owns the file and must
// call Remove once it has been uploaded.
type Archive struct {
	Path    string
	BatchID string
	// Members are the archive entry names in the order they were written.
	Members []string
}

// Remove deletes the archive file. Removing twice is not an error.
func (a *Archive) Remove() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Pack archives root into a new zip file created in tmpDir (the system temp
// directory when empty). Files whose absolute path matches any exclude
// pattern are skipped. When root is a regular file only that file is packed.
func Pack(root, batchID string, excludes []*regexp.Regexp, tmpDir string) (*Archive, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, errors.New("batch id is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	out, err := os.CreateTemp(tmpDir, batchID+"-*.zip")
	if err != nil {
		return nil, err
	}
	a := &Archive{Path: out.Name(), BatchID: batchID}

	zw := zip.NewWriter(out)
	if info.IsDir() {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || p == a.Path {
				return nil
			}
			if excluded(p, excludes) {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			name := path.Join(batchID, filepath.ToSlash(rel))
			if err := addFile(zw, p, name); err != nil {
				return err
			}
			a.Members = append(a.Members, name)
			return nil
		})
	} else {
		name := path.Join(batchID, filepath.Base(root))
		if err = addFile(zw, root, name); err == nil {
			a.Members = append(a.Members, name)
		}
	}

	err = multierr.Combine(err, zw.Close(), out.Close())
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("pack %s: %w", root, err), a.Remove())
	}
	return a, nil
}

func excluded(p string, excludes []*regexp.Regexp) bool {
	for _, re := range excludes {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

func addFile(zw *zip.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Unpack extracts blob into dest and always deletes blob afterwards, whether
// extraction succeeded or not. A blob that is not a zip archive, has entries
// escaping dest or fails its checksums while extracting yields a *FormatError.
// Files extracted before a failure are left in dest.
func Unpack(blob, dest string) (err error) {
	defer func() {
		if rmErr := os.Remove(blob); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
	}()

	zr, err := zip.OpenReader(blob)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return &FormatError{Path: blob, Err: err}
	}
	defer zr.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			return &FormatError{Path: blob, Err: fmt.Errorf("entry %q escapes destination", f.Name)}
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			if corrupt(err) {
				return &FormatError{Path: blob, Err: fmt.Errorf("%s: %w", f.Name, err)}
			}
			return err
		}
	}
	return nil
}

// corrupt reports whether err comes from damaged archive data rather than
// from the local filesystem.
func corrupt(err error) bool {
	var flateErr flate.CorruptInputError
	return errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &flateErr)
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	return multierr.Append(err, out.Close())
}
