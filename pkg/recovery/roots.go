package recovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lemonberrylabs/amend/pkg/config"
)

// Roots is the table of named storage roots of the emulated device. Scripts
// address files as "ROOT:relative/path", e.g. "SYSTEM:app/Foo.apk".
type Roots struct {
	mu      sync.Mutex
	roots   map[string]config.Root
	mounted map[string]bool
}

// NewRoots creates a root table from configured roots.
func NewRoots(roots map[string]config.Root) *Roots {
	r := &Roots{
		roots:   make(map[string]config.Root, len(roots)),
		mounted: make(map[string]bool),
	}
	for name, root := range roots {
		r.roots[name] = root
	}
	return r
}

// Names returns the root names in sorted order.
func (r *Roots) Names() []string {
	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// split breaks a root path into its root and the cleaned path below it.
func (r *Roots) split(rootPath string) (string, config.Root, string, error) {
	name, rel, ok := strings.Cut(rootPath, ":")
	if !ok || name == "" {
		return "", config.Root{}, "", fmt.Errorf("%q is not a root path", rootPath)
	}
	root, ok := r.roots[name]
	if !ok {
		return "", config.Root{}, "", fmt.Errorf("unknown root %q", name)
	}
	rel = path.Clean("/" + rel)
	return name, root, strings.TrimPrefix(rel, "/"), nil
}

// Translate maps a root path to a host filesystem path. Symlinks on the
// way are followed, and a path that resolves outside the root's directory
// is rejected. Raw partitions have no filesystem and cannot be translated.
func (r *Roots) Translate(rootPath string) (string, error) {
	return r.translate(rootPath, true)
}

// TranslateLink is like Translate but does not follow a symlink in the
// last path element, for operations on the link itself.
func (r *Roots) TranslateLink(rootPath string) (string, error) {
	return r.translate(rootPath, false)
}

func (r *Roots) translate(rootPath string, followLast bool) (string, error) {
	name, root, rel, err := r.split(rootPath)
	if err != nil {
		return "", err
	}
	if root.Raw() {
		return "", fmt.Errorf("root %s: is a raw partition", name)
	}
	host := filepath.Join(root.Dir, filepath.FromSlash(rel))
	if rel == "" {
		return host, nil
	}

	check := host
	if !followLast {
		check = filepath.Dir(host)
	}
	resolved, err := resolveExisting(check, 0)
	if err != nil {
		return "", fmt.Errorf("%s: %w", rootPath, err)
	}
	base, err := resolveExisting(root.Dir, 0)
	if err != nil {
		return "", fmt.Errorf("root %s: %w", name, err)
	}
	inside, err := filepath.Rel(base, resolved)
	if err != nil || (inside != "." && !filepath.IsLocal(inside)) {
		return "", fmt.Errorf("%s resolves outside root %s", rootPath, name)
	}
	return host, nil
}

// maxLinkDepth bounds the symlinks resolveExisting follows.
const maxLinkDepth = 40

// resolveExisting evaluates the symlinks in the longest existing prefix of
// p and appends the remaining elements unchanged. Dangling links are
// followed to where they point.
func resolveExisting(p string, depth int) (string, error) {
	if depth > maxLinkDepth {
		return "", errors.New("too many levels of symbolic links")
	}
	p = filepath.Clean(p)
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if target, lerr := os.Readlink(p); lerr == nil {
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(p), target)
			}
			resolved, err := resolveExisting(target, depth+1)
			if err != nil {
				return "", err
			}
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Join(append([]string{p}, rest...)...), nil
		}
		rest = append([]string{filepath.Base(p)}, rest...)
		p = parent
	}
}

// DevicePath maps a root path to the path the device sees, which is what
// permission tables are written against. A raw partition is named by its
// root.
func (r *Roots) DevicePath(rootPath string) (string, error) {
	name, root, rel, err := r.split(rootPath)
	if err != nil {
		return "", err
	}
	if root.Raw() {
		return name + ":", nil
	}
	mount := root.Mount
	if mount == "" {
		mount = "/" + strings.ToLower(name)
	}
	return path.Join(mount, rel), nil
}

// Partition returns the image file backing a raw root.
func (r *Roots) Partition(rootPath string) (string, error) {
	name, root, _, err := r.split(rootPath)
	if err != nil {
		return "", err
	}
	if !root.Raw() {
		return "", fmt.Errorf("root %s: not a raw partition", name)
	}
	return root.Partition, nil
}

// EnsureMounted makes the filesystem holding rootPath available.
func (r *Roots) EnsureMounted(rootPath string) error {
	name, root, _, err := r.split(rootPath)
	if err != nil {
		return err
	}
	if root.Raw() {
		return fmt.Errorf("root %s: can't mount a raw partition", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mounted[name] {
		return nil
	}
	if err := os.MkdirAll(root.Dir, 0755); err != nil {
		return fmt.Errorf("mount %s: %w", name, err)
	}
	r.mounted[name] = true
	return nil
}

// EnsureUnmounted releases the root holding rootPath.
func (r *Roots) EnsureUnmounted(rootPath string) error {
	name, _, _, err := r.split(rootPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounted, name)
	return nil
}

// Mounted reports whether the named root is mounted.
func (r *Roots) Mounted(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounted[strings.TrimSuffix(name, ":")]
}

// Format erases a root. Filesystem roots are emptied and raw partitions
// truncated. Only a whole root ("CACHE:") may be formatted.
func (r *Roots) Format(rootPath string) error {
	name, root, rel, err := r.split(rootPath)
	if err != nil {
		return err
	}
	if rel != "" {
		return fmt.Errorf("format %s: not a whole root", rootPath)
	}
	if err := r.EnsureUnmounted(rootPath); err != nil {
		return err
	}
	if root.Raw() {
		if err := os.MkdirAll(filepath.Dir(root.Partition), 0755); err != nil {
			return fmt.Errorf("format %s: %w", name, err)
		}
		return os.WriteFile(root.Partition, nil, 0644)
	}
	if err := os.RemoveAll(root.Dir); err != nil {
		return fmt.Errorf("format %s: %w", name, err)
	}
	return os.MkdirAll(root.Dir, 0755)
}
