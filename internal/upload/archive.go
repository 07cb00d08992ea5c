// Package upload packages a sealed session and sends it for processing.
package upload

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/ar-recorder/recorder/pkg/core"
	"github.com/klauspost/compress/zip"
)

// archiveModTime is stamped on every entry so identical sessions produce
// identical archives.
var archiveModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// openFile is replaced in tests to simulate unreadable files.
var openFile = os.Open

// Archive zips sessionDir into dst. Entries are the session's regular files,
// sorted by relative path and rooted at the session folder name
// (session_<id>/frame_000001.jpg). On any error the partial archive is
// removed and the error wraps core.ErrArchiveFailed.
func Archive(sessionDir, dst string) (err error) {
	info, err := os.Stat(sessionDir)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrArchiveFailed, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", core.ErrArchiveFailed, sessionDir)
	}

	files, err := listFiles(sessionDir)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrArchiveFailed, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrArchiveFailed, err)
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	root := filepath.Base(filepath.Clean(sessionDir))
	for _, rel := range files {
		if err = addFile(zw, filepath.Join(sessionDir, rel), path.Join(root, filepath.ToSlash(rel))); err != nil {
			zw.Close()
			out.Close()
			return fmt.Errorf("%w: %s: %w", core.ErrArchiveFailed, rel, err)
		}
	}
	if err = zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("%w: %w", core.ErrArchiveFailed, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrArchiveFailed, err)
	}
	return nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Slice(files, func(i, j int) bool {
		return filepath.ToSlash(files[i]) < filepath.ToSlash(files[j])
	})
	return files, err
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := openFile(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: archiveModTime,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
