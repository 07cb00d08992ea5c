package relay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrUnsafeEntry is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafeEntry = errors.New("archive entry escapes extraction directory")

// ErrNoSession is returned when an upload holds no recognisable session.
var ErrNoSession = errors.New("no session folder in archive")

// Extract unpacks the zip at archivePath into dst. maxBytes caps the total
// uncompressed size; zero disables the cap.
func Extract(archivePath, dst string, maxBytes int64) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	var total int64
	for _, f := range zr.File {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		budget := int64(-1)
		if maxBytes > 0 {
			budget = maxBytes - total
		}
		n, err := extractFile(f, target, budget)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		total += n
	}
	return nil
}

func entryPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	return target, nil
}

// extractFile copies one entry. A negative budget means unlimited.
func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	var src io.Reader = rc
	if budget >= 0 {
		src = io.LimitReader(rc, budget+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if budget >= 0 && n > budget {
		return n, errors.New("archive exceeds upload size limit")
	}
	return n, nil
}

// LocateSession finds the session folder inside an extracted upload: the
// first session_* directory in sorted order, else root itself if it holds a
// .jsonl metadata file.
func LocateSession(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	var dirs []string
	hasJSONL := false
	for _, e := range entries {
		switch {
		case e.IsDir() && strings.HasPrefix(e.Name(), "session_"):
			dirs = append(dirs, e.Name())
		case !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl"):
			hasJSONL = true
		}
	}
	if len(dirs) > 0 {
		sort.Strings(dirs)
		return filepath.Join(root, dirs[0]), nil
	}
	if hasJSONL {
		return root, nil
	}
	return "", ErrNoSession
}

// SessionName derives the session folder name used for result files. An
// extraction root is named after its metadata file.
func SessionName(sessionDir string) string {
	base := filepath.Base(sessionDir)
	if strings.HasPrefix(base, "session_") {
		return base
	}
	matches, _ := filepath.Glob(filepath.Join(sessionDir, "session_*.jsonl"))
	if len(matches) > 0 {
		sort.Strings(matches)
		return strings.TrimSuffix(filepath.Base(matches[0]), ".jsonl")
	}
	return base
}
