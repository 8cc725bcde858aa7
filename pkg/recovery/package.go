package recovery

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// PackagePrefix marks paths inside the update package.
const PackagePrefix = "PKG:"

// IsPackagePath reports whether p names a file in the update package.
func IsPackagePath(p string) bool {
	return strings.HasPrefix(p, PackagePrefix)
}

// Package is an opened update package.
type Package struct {
	path   string
	zr     *zip.ReadCloser
	byName map[string]*zip.File
}

// OpenPackage opens the update zip at path.
func OpenPackage(path string) (*Package, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	p := &Package{path: path, zr: zr, byName: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		p.byName[f.Name] = f
	}
	return p, nil
}

// Path returns the file the package was opened from.
func (p *Package) Path() string { return p.path }

// Close releases the package.
func (p *Package) Close() error {
	if p == nil || p.zr == nil {
		return nil
	}
	return p.zr.Close()
}

// entryName converts "PKG:dir/file" to the zip entry name "dir/file".
func entryName(pkgPath string) (string, error) {
	if !IsPackagePath(pkgPath) {
		return "", fmt.Errorf("%q is not a package path", pkgPath)
	}
	name := strings.TrimPrefix(pkgPath, PackagePrefix)
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	return name, nil
}

// Entry finds a file entry by package path.
func (p *Package) Entry(pkgPath string) (*zip.File, error) {
	if p == nil {
		return nil, fmt.Errorf("no update package")
	}
	name, err := entryName(pkgPath)
	if err != nil {
		return nil, err
	}
	f, ok := p.byName[name]
	if !ok || strings.HasSuffix(f.Name, "/") {
		return nil, fmt.Errorf("can't find %s", name)
	}
	return f, nil
}

// Open opens the contents of a package file.
func (p *Package) Open(pkgPath string) (io.ReadCloser, int64, error) {
	f, err := p.Entry(pkgPath)
	if err != nil {
		return nil, 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, 0, err
	}
	return rc, int64(f.UncompressedSize64), nil
}

// ReadAll returns the contents of a package file, reporting the fraction
// read so far to progress if it is not nil.
func (p *Package) ReadAll(pkgPath string, progress func(float64)) ([]byte, error) {
	rc, size, err := p.Open(pkgPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data := make([]byte, 0, size)
	buf := make([]byte, 32*1024)
	for {
		n, err := rc.Read(buf)
		data = append(data, buf[:n]...)
		if progress != nil && size > 0 {
			progress(float64(len(data)) / float64(size))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("short read of %s", pkgPath)
	}
	return data, nil
}

// ExtractRecursive copies every file below the package directory src into
// the host directory dst, so that "PKG:system/a" lands in dst/a when src is
// "PKG:system". Directory entries are skipped; parent directories are
// created as needed. Extracted files get timestamp as their access and
// modification time. progress, if not nil, is called after each file
// with the number of files done and the total.
func (p *Package) ExtractRecursive(src, dst string, timestamp time.Time, progress func(done, total int)) error {
	if p == nil {
		return fmt.Errorf("no update package")
	}
	dir, err := entryName(src)
	if err != nil {
		return err
	}
	if dir != "" {
		dir += "/"
	}

	// Collect first so that bad entries are found before anything is
	// written.
	var files []*zip.File
	for _, f := range p.zr.File {
		if !strings.HasPrefix(f.Name, dir) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel := strings.TrimPrefix(f.Name, dir)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("entry %q escapes the target directory", f.Name)
		}
		files = append(files, f)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("can't create %q: %w", dst, err)
	}
	root, err := os.OpenRoot(dst)
	if err != nil {
		return err
	}
	defer root.Close()

	for i, f := range files {
		rel := filepath.FromSlash(strings.TrimPrefix(f.Name, dir))
		if err := extractFile(root, f, rel, timestamp); err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}
	return nil
}

// extractFile writes f to rel below root. Symlinks already in the tree
// are only followed while they stay inside root.
func extractFile(root *os.Root, f *zip.File, rel string, timestamp time.Time) error {
	if err := root.MkdirAll(filepath.Dir(rel), 0755); err != nil {
		return fmt.Errorf("can't create containing directory for %q: %w", rel, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	if f.Mode()&os.ModeSymlink != 0 {
		link, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		root.Remove(rel)
		return root.Symlink(string(link), rel)
	}

	out, err := root.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("can't create %q: %w", rel, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return root.Chtimes(rel, timestamp, timestamp)
}
