package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// extractTarGz unpacks a gzip-compressed tarball into dest. Entries with
// absolute names, ".." components or symlinks pointing outside dest are
// rejected, as is any entry beneath a symlink from the same archive. Hard
// links and device nodes are rejected too. All writes go through an os.Root
// so nothing can land outside dest.
func extractTarGz(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	root, err := os.OpenRoot(dest)
	if err != nil {
		return fmt.Errorf("open staging dir: %w", err)
	}
	defer root.Close()

	tr := tar.NewReader(gz)
	links := make(map[string]bool)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name, err := cleanEntryName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		if under := linkAncestor(links, name); under != "" {
			return fmt.Errorf("archive entry %q: path runs through symlink %q", name, under)
		}
		local := filepath.FromSlash(name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(local, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", name, err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := mkdirParent(root, name); err != nil {
				return err
			}
			if err := writeEntry(root, local, tr, hdr.FileInfo().Mode().Perm()|0o600); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
			files++
		case tar.TypeSymlink:
			if err := checkLinkTarget(name, hdr.Linkname); err != nil {
				return err
			}
			if err := mkdirParent(root, name); err != nil {
				return err
			}
			if err := root.Symlink(hdr.Linkname, local); err != nil {
				return fmt.Errorf("symlink %s: %w", name, err)
			}
			links[name] = true
		case tar.TypeXGlobalHeader:
			continue
		default:
			return fmt.Errorf("archive entry %s: unsupported type %q", name, string(hdr.Typeflag))
		}
	}
	if files == 0 {
		return errors.New("archive contains no files")
	}
	return nil
}

// linkAncestor returns the symlink entry that name sits beneath, if any.
func linkAncestor(links map[string]bool, name string) string {
	for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
		if links[dir] {
			return dir
		}
	}
	return ""
}

func mkdirParent(root *os.Root, name string) error {
	dir := path.Dir(name)
	if dir == "." {
		return nil
	}
	if err := root.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

func cleanEntryName(name string) (string, error) {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry %q: absolute path", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("archive entry %q: path traversal", name)
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

func checkLinkTarget(name, link string) error {
	if path.IsAbs(link) {
		return fmt.Errorf("archive entry %q: absolute symlink target %q", name, link)
	}
	resolved := path.Clean(path.Join(path.Dir(name), link))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("archive entry %q: symlink escapes archive root", name)
	}
	return nil
}

func writeEntry(root *os.Root, name string, r io.Reader, mode os.FileMode) error {
	f, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// contentRoot returns the directory holding the release tree. Archives often
// wrap everything in a single top-level directory; that wrapper is skipped
// unless the manifest file already sits at the top.
func contentRoot(dir, manifestFile string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
