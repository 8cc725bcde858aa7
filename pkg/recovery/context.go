// Package recovery provides the update command set run by recovery scripts,
// backed by an emulated device: a table of storage roots, an update
// package, system properties and a persistent mark store.
package recovery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/lemonberrylabs/amend/pkg/config"
	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/store"
	"github.com/lemonberrylabs/amend/pkg/ui"
)

// Context is the cookie every update command receives.
type Context struct {
	Roots       *Roots
	Package     *Package
	Properties  map[string]string
	Marks       store.MarkStore
	UI          ui.Progress
	Firmware    *Firmware
	Versions    []string
	Forced      bool
	Permissions *permissions.Table

	// Stdout receives the output of run_program.
	Stdout io.Writer

	mu              sync.Mutex
	didShowProgress bool
}

// NewContext builds a command context for the device described by cfg.
// Progress goes to progress; a nil progress discards it.
func NewContext(cfg *config.Config, progress ui.Progress) (*Context, error) {
	if progress == nil {
		progress = ui.NewConsole(io.Discard)
	}
	perms, err := cfg.PermissionTable()
	if err != nil {
		return nil, err
	}
	marks, err := store.OpenMarks(cfg.Marks)
	if err != nil {
		return nil, err
	}
	c := &Context{
		Roots:       NewRoots(cfg.Roots),
		Properties:  cfg.Properties,
		Marks:       marks,
		UI:          progress,
		Firmware:    &Firmware{Dir: cfg.FirmwareDir},
		Versions:    slices.Clone(cfg.CompatibleVersions),
		Forced:      cfg.Forced(),
		Permissions: perms,
		Stdout:      os.Stderr,
	}
	if cfg.Package != "" {
		if err := c.OpenPackage(cfg.Package); err != nil {
			marks.Close()
			return nil, err
		}
	}
	return c, nil
}

// OpenPackage makes the zip at path the update package, replacing any
// package opened before.
func (c *Context) OpenPackage(path string) error {
	pkg, err := OpenPackage(path)
	if err != nil {
		return err
	}
	if c.Package != nil {
		c.Package.Close()
	}
	c.Package = pkg
	return nil
}

// Close releases the package and the mark store.
func (c *Context) Close() error {
	var errs []error
	if c.Package != nil {
		errs = append(errs, c.Package.Close())
	}
	if c.Marks != nil {
		errs = append(errs, c.Marks.Close())
	}
	return errors.Join(errs...)
}

// showDefaultProgress claims fraction of the bar unless the script already
// called show_progress.
func (c *Context) showDefaultProgress(fraction float64) {
	c.mu.Lock()
	shown := c.didShowProgress
	c.mu.Unlock()
	if !shown {
		c.UI.ShowProgress(fraction, 0)
	}
}

func (c *Context) markProgressShown() {
	c.mu.Lock()
	c.didShowProgress = true
	c.mu.Unlock()
}

// Firmware holds the radio or hboot image a script asked to install. At
// most one image may be pending; it is written out when the script is
// done.
type Firmware struct {
	Dir string

	mu   sync.Mutex
	kind string
	data []byte
}

// Remember records a pending image.
func (f *Firmware) Remember(kind string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kind != "" {
		return errors.New("multiple firmware images")
	}
	f.kind = kind
	f.data = data
	return nil
}

// Pending returns the kind and size of the pending image, if any.
func (f *Firmware) Pending() (string, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kind, len(f.data), f.kind != "" && len(f.data) > 0
}

// Install writes the pending image to Dir as <kind>.img and clears it.
// It returns the written file, or "" when nothing was pending.
func (f *Firmware) Install() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kind == "" || len(f.data) == 0 {
		return "", nil
	}
	if f.Dir == "" {
		return "", errors.New("no firmware directory configured")
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", fmt.Errorf("firmware: %w", err)
	}
	target := filepath.Join(f.Dir, f.kind+".img")
	if err := os.WriteFile(target, f.data, 0644); err != nil {
		return "", fmt.Errorf("firmware: %w", err)
	}
	f.kind, f.data = "", nil
	return target, nil
}
