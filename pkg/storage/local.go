package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// FolderPDFs holds uploaded source documents.
	FolderPDFs = "pdfs"
	// FolderAudios holds generated audio, parallel to FolderPDFs.
	FolderAudios = "audios"
	// AudioExt is the extension of generated audio files.
	AudioExt = ".mp3"
)

// Layout addresses files by owner, lesson and document under two parallel trees:
// <base>/pdfs/<user>/<lesson>/<document>.pdf and <base>/audios/<user>/<lesson>/<document>.mp3.
type Layout struct {
	baseDir string
}

// NewLayout resolves baseDir and creates both trees.
func NewLayout(baseDir string) (*Layout, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, FolderPDFs), filepath.Join(abs, FolderAudios)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Layout{baseDir: abs}, nil
}

// BaseDir returns the absolute data directory.
func (l *Layout) BaseDir() string { return l.baseDir }

// PDFPath returns the source document path.
func (l *Layout) PDFPath(userID, lessonID, documentID string) string {
	return filepath.Join(l.baseDir, FolderPDFs, userID, lessonID, documentID+".pdf")
}

// AudioPath returns the generated audio path.
func (l *Layout) AudioPath(userID, lessonID, documentID string) string {
	return filepath.Join(l.baseDir, FolderAudios, userID, lessonID, documentID+AudioExt)
}

// SavePDF streams r to the document's source path, creating parent directories.
func (l *Layout) SavePDF(userID, lessonID, documentID string, r io.Reader) (string, error) {
	dest := l.PDFPath(userID, lessonID, documentID)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("ensure pdf directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create pdf file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("write pdf file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close pdf file: %w", err)
	}
	return dest, nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RemoveFiles deletes every non-empty path, ignoring files that are already gone.
// It returns the first other error but still attempts all paths.
func RemoveFiles(paths ...string) error {
	var first error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
			first = fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return first
}

// SanitizeFilename folds a client filename to ASCII (NFKD, dropping marks and other
// non-ASCII runes), replaces spaces with underscores and strips any directory part.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		switch {
		case r > unicode.MaxASCII || unicode.IsControl(r):
			continue
		case r == ' ':
			b.WriteByte('_')
		case r == '/':
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "document.pdf"
	}
	return out
}
