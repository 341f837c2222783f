package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	ErrCorrupt    = errors.New("archive is corrupt")
	ErrIo         = errors.New("failed to write archive entry")
	ErrUnsafePath = errors.New("archive entry escapes the destination")
)

// Extract writes every entry of the zip archive at archivePath under destDir,
// in the order of the archive's central directory. Existing files are
// overwritten.
//
// Extraction stops at the first error, entries that were already written are
// left in place.
func Extract(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return fmt.Errorf("%w: open %s: %w", ErrIo, archivePath, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, archivePath, err)
	}
	defer r.Close()

	err = os.MkdirAll(destDir, 0755)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIo, err)
	}

	for _, f := range r.File {
		err = extractEntry(f, destDir)
		if err != nil {
			return err
		}
	}
	return nil
}

// EntryPath resolves an entry name to a path under destDir, names that are
// absolute or climb out of destDir are rejected.
func EntryPath(destDir, name string) (string, error) {
	// archives made on windows may use backslashes
	rel := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(destDir, rel), nil
}

type trackedWriter struct {
	w   io.Writer
	err error
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func extractEntry(f *zip.File, destDir string) error {
	target, err := EntryPath(destDir, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		err = os.MkdirAll(target, 0755)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIo, err)
		}
		return nil
	}

	err = os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIo, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, f.Name, err)
	}
	defer rc.Close()

	// symlinks are written as regular files holding the link target
	perm := f.Mode().Perm() | 0600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIo, err)
	}

	tw := &trackedWriter{w: out}
	_, err = io.Copy(tw, rc)
	closeErr := out.Close()
	if err != nil {
		if tw.err != nil {
			return fmt.Errorf("%w: %s: %w", ErrIo, f.Name, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, f.Name, err)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %w", ErrIo, closeErr)
	}
	return nil
}
