// Package extract turns downloaded attachments into plain text.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/heartmarshall/autograder/internal/domain"
)

// plainTextExts are read as UTF-8 text; invalid sequences are dropped.
var plainTextExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".tex": true,
	".csv": true, ".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".html": true, ".htm": true, ".css": true,
	".py": true, ".go": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".cc": true, ".cs": true, ".js": true,
	".ts": true, ".rb": true, ".rs": true, ".kt": true, ".swift": true,
	".php": true, ".sql": true, ".sh": true, ".r": true, ".m": true,
	".ipynb": true,
}

// Extractor reads text from files and unpacks archives.
type Extractor struct {
	log *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{log: logger.With("component", "extract")}
}

// Supported reports whether ExtractText understands the file's extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return plainTextExts[ext] || ext == ".docx" || ext == ".pdf"
}

// ExtractText returns the text content of path. Unsupported formats yield
// "" and no error; a supported file that cannot be read yields a
// *domain.CollaboratorError.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch {
	case plainTextExts[ext]:
		text, err = readPlain(path)
	case ext == ".docx":
		text, err = readDocx(path)
	case ext == ".pdf":
		text, err = readPDF(path)
	default:
		e.log.DebugContext(ctx, "unsupported format", slog.String("path", path))
		return "", nil
	}
	if err != nil {
		return "", domain.NewCollaboratorError("extract "+filepath.Base(path), err)
	}
	return text, nil
}

// Expand returns the files an attachment contributes: the attachment itself,
// or for .zip archives the unpacked members that ExtractText understands, in
// archive order. Each archive is unpacked into its own folder under destDir,
// named after the archive and emptied first, so members never overwrite the
// archive or files from other attachments.
func (e *Extractor) Expand(ctx context.Context, path, destDir string) ([]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return []string{path}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unpackDir := filepath.Join(destDir, unpackDirName(path))
	if err := os.RemoveAll(unpackDir); err != nil {
		return nil, fmt.Errorf("extract: clear %s: %w", unpackDir, err)
	}

	files, rejected, err := Unzip(path, unpackDir)
	for _, name := range rejected {
		e.log.WarnContext(ctx, "zip entry rejected",
			slog.String("archive", filepath.Base(path)),
			slog.String("entry", name),
		)
	}
	if err != nil {
		return nil, domain.NewCollaboratorError("unzip "+filepath.Base(path), err)
	}

	out := files[:0]
	for _, f := range files {
		if !Supported(f) {
			e.log.DebugContext(ctx, "zip entry ignored", slog.String("entry", filepath.Base(f)))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// unpackDirName is "<archive name without extension>_unzipped".
func unpackDirName(archive string) string {
	base := filepath.Base(archive)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_unzipped"
}

func readPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
