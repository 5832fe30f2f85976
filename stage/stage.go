// Package stage manages the files of a run: the temporary working area,
// transparent decompression of inputs, and placement of compressed outputs.
package stage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	"github.com/shenwei356/xopen"
	"golang.org/x/sys/unix"
)

// ErrConflict is returned when an output path cannot be written.
var ErrConflict = errors.New("output conflict")

// Workdir is a temporary directory owned exclusively by one run.
type Workdir struct {
	dir string
}

// NewWorkdir creates a new working area under parent. An empty parent uses os.TempDir.
func NewWorkdir(parent string) (*Workdir, error) {
	dir, err := os.MkdirTemp(parent, "getUnmapped-")
	if err != nil {
		return nil, fmt.Errorf("creating working area: %w", err)
	}
	return &Workdir{dir: dir}, nil
}

// Dir returns the location of the working area.
func (w *Workdir) Dir() string {
	return w.dir
}

// Path returns the path of name inside the working area.
func (w *Workdir) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Remove deletes the working area and everything in it. It is safe to call more than once.
func (w *Workdir) Remove() error {
	if w == nil || w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	if err == nil {
		w.dir = ""
	}
	return err
}

// IsCompressed reports whether the file at path begins with the magic
// bytes of gzip, bzip2, xz, or zstd.
func IsCompressed(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for _, check := range []func(*bufio.Reader) (bool, error){xopen.IsGzip, xopen.IsBzip2, xopen.IsXz, xopen.IsZst} {
		ok, err := check(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Decompress returns a path to an uncompressed copy of src. Uncompressed
// inputs are returned as is; compressed inputs are expanded to dst.
func Decompress(src, dst string) (string, bool, error) {
	compressed, err := IsCompressed(src)
	if err != nil {
		return "", false, err
	}
	if !compressed {
		return src, false, nil
	}

	in, err := xopen.Ropen(src)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", false, err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return "", false, fmt.Errorf("decompressing %s: %w", src, err)
	}
	if err = out.Close(); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Compress gzips src into dst using up to threads compression goroutines.
func Compress(src, dst string, threads int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	zw := pgzip.NewWriter(out)
	if threads > 0 {
		if err = zw.SetConcurrency(1<<20, threads); err != nil {
			out.Close()
			return err
		}
	}
	if _, err = io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return fmt.Errorf("compressing %s: %w", dst, err)
	}
	if err = zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Place moves src to dst, copying when they are on different file systems.
func Place(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, unix.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CheckOutput verifies that path may be written. An existing file is a
// conflict unless force is set, and must be a writable regular file. A new
// file needs a writable parent directory.
func CheckOutput(path string, force bool) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !force {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", ErrConflict, path)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrConflict, path)
		}
		if unix.Access(path, unix.W_OK) != nil {
			return fmt.Errorf("%w: %s is not writable", ErrConflict, path)
		}
		return nil
	case errors.Is(err, os.ErrNotExist):
		dir := filepath.Dir(path)
		dirInfo, err := os.Stat(dir)
		if err != nil || !dirInfo.IsDir() {
			return fmt.Errorf("%w: output directory %s does not exist", ErrConflict, dir)
		}
		if unix.Access(dir, unix.W_OK) != nil {
			return fmt.Errorf("%w: output directory %s is not writable", ErrConflict, dir)
		}
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
}
