package extract

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Unzip unpacks archive into destDir. It returns the written regular files in
// archive order and the names of entries that were skipped: entries that would
// land outside destDir, non-regular files, and repeats of an earlier name.
func Unzip(archive, destDir string) (files, rejected []string, err error) {
	// Insecure names are filtered below, so ErrInsecurePath is not fatal.
	zr, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", destDir, err)
	}

	seen := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		dst, ok := within(root, f.Name)
		if !ok {
			rejected = append(rejected, f.Name)
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return nil, rejected, err
			}
			continue
		}
		if !f.Mode().IsRegular() || seen[dst] {
			rejected = append(rejected, f.Name)
			continue
		}
		seen[dst] = true
		if err := writeEntry(f, dst); err != nil {
			return nil, rejected, err
		}
		files = append(files, dst)
	}
	return files, rejected, nil
}

// within joins name onto root and reports whether the result stays inside root.
func within(root, name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", false
	}
	dst := filepath.Join(root, name)
	if dst != root && !strings.HasPrefix(dst, root+string(os.PathSeparator)) {
		return "", false
	}
	return dst, true
}

func writeEntry(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("write entry %s: %w", f.Name, err)
	}
	return out.Close()
}
