package recovery

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/store"
	"github.com/lemonberrylabs/amend/pkg/ui"
)

// DefaultTimestamp is the modification time copy_dir gives extracted files
// when the script names none (2008-08-01).
const DefaultTimestamp = 1217592000

// runProgramBinary is where run_program extracts its executable, below the
// TMP root.
const runProgramBinary = "TMP:run_program_binary"

// assert <boolexpr>
func cmdAssert(name string, cookie any, argc int, argv []string) int {
	if argv != nil || (argc != 0 && argc != 1) {
		return -1
	}
	if argc == 1 {
		return 0
	}
	return 1
}

// format <root>
func cmdFormat(c *Context, name string, argv []string) int {
	if len(argv) != 1 {
		log.Printf("Error: command %s requires exactly one argument", name)
		return 1
	}
	c.UI.Print("Formatting %s...\n", argv[0])
	if err := c.Roots.Format(argv[0]); err != nil {
		log.Printf("Error: can't format %s: %v", argv[0], err)
		return 1
	}
	return 0
}

func probeFormat(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) != 1 {
		return 1
	}
	return requestPaths(c, argv, true, permissions.PermSetWrite, perms)
}

// delete <file1> [<fileN> ...]
// delete_recursive <file-or-dir1> [<file-or-dirN> ...]
//
// Every named path is tried even if earlier ones fail, and the command
// succeeds regardless.
func cmdDelete(c *Context, name string, argv []string) int {
	if len(argv) < 1 {
		log.Printf("Error: command %s requires at least one argument", name)
		return 1
	}
	recurse := name == "delete_recursive"
	c.UI.Print("Deleting files...\n")

	for _, rootPath := range argv {
		path, err := c.Roots.TranslateLink(rootPath)
		if err != nil {
			log.Printf("Warning: can't delete %q: %v", rootPath, err)
			continue
		}
		if err := c.Roots.EnsureMounted(rootPath); err != nil {
			log.Printf("Warning: can't mount volume to delete %q: %v", rootPath, err)
			continue
		}
		if recurse {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("Warning: can't delete %s: %v", path, err)
		}
	}
	return 0
}

func probeDelete(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) < 1 {
		return 1
	}
	return requestPaths(c, argv, name == "delete_recursive", permissions.PermSetWrite, perms)
}

// copy_dir <src-dir> <dst-dir> [<timestamp>]
//
// The contents of src-dir, which must be inside the package, become the
// contents of dst-dir. Files already in dst-dir are kept unless
// overwritten.
func cmdCopyDir(c *Context, name string, argv []string) int {
	timestamp := uint64(DefaultTimestamp)
	switch len(argv) {
	case 2:
	case 3:
		v, err := strconv.ParseUint(argv[2], 0, 64)
		if err != nil || v == 0 {
			log.Printf("Error: command %s: invalid timestamp %q", name, argv[2])
			return 1
		}
		if v < DefaultTimestamp {
			log.Printf("Error: command %s: timestamp %q too early", name, argv[2])
			return 1
		}
		timestamp = v
	default:
		log.Printf("Error: command %s requires exactly two arguments", name)
		return 1
	}

	c.UI.Print("Copying files...\n")
	c.showDefaultProgress(ui.DefaultFilesProgressFraction)

	src, dst := argv[0], argv[1]
	if err := c.Roots.EnsureMounted(dst); err != nil {
		log.Printf("Error: can't mount %s: %v", dst, err)
		return 1
	}
	dstPath, err := c.Roots.Translate(dst)
	if err != nil {
		log.Printf("Error: command %s: bad destination path %q: %v", name, dst, err)
		return 1
	}
	if !IsPackagePath(src) {
		log.Printf("Error: command %s: non-package source path %q not yet supported", name, src)
		return 255
	}

	ts := time.Unix(int64(timestamp), 0)
	err = c.Package.ExtractRecursive(src, dstPath, ts, func(done, total int) {
		c.UI.SetProgress(float64(done) / float64(total))
	})
	if err != nil {
		log.Printf("Warning: command %s: couldn't extract %q to %q: %v", name, src, dst, err)
		return 1
	}
	return 0
}

func probeCopyDir(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) != 2 && len(argv) != 3 {
		return 1
	}
	return requestPaths(c, argv[1:2], true, permissions.PermSetWrite, perms)
}

// run_program <program-file> [<args> ...]
//
// Runs an executable shipped in the package. The program sees the words
// of the command as its arguments, starting with the package path.
func cmdRunProgram(c *Context, name string, argv []string) int {
	if len(argv) < 1 {
		log.Printf("Error: command %s requires at least one argument", name)
		return 1
	}
	if !IsPackagePath(argv[0]) {
		log.Printf("Error: command %s: non-package program file %q not supported", name, argv[0])
		return 1
	}
	data, err := c.Package.ReadAll(argv[0], nil)
	if err != nil {
		log.Printf("Error: command %s: %v", name, err)
		return 1
	}

	if err := c.Roots.EnsureMounted(runProgramBinary); err != nil {
		log.Printf("Error: can't mount %s: %v", runProgramBinary, err)
		return 1
	}
	binary, err := c.Roots.Translate(runProgramBinary)
	if err != nil {
		log.Printf("Error: command %s: %v", name, err)
		return 1
	}
	os.Remove(binary)
	if err := os.WriteFile(binary, data, 0755); err != nil {
		log.Printf("Error: can't make %s: %v", binary, err)
		return 1
	}

	cmd := exec.Command(binary, argv[1:]...)
	cmd.Args[0] = argv[0]
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stdout
	if err := cmd.Run(); err != nil {
		log.Printf("Error: error in %s: %v", argv[0], err)
		return 1
	}
	return 0
}

func probeRunProgram(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) < 1 {
		return 1
	}
	bin := runProgramBinary
	return requestPaths(c, []*string{&bin}, false, permissions.PermSetWrite, perms)
}

// set_perm <uid> <gid> <mode> <path> [... <pathN>]
// set_perm_recursive <uid> <gid> <dir-mode> <file-mode> <path> [... <pathN>]
//
// Numbers may be given in decimal, hex or octal. Any error fails the
// command.
func cmdSetPerm(c *Context, name string, argv []string) int {
	recurse := name == "set_perm_recursive"
	n, paths, ok := permArgs(name, argv, recurse)
	if !ok {
		return 1
	}

	for _, rootPath := range paths {
		path, err := c.Roots.Translate(rootPath)
		if err != nil {
			log.Printf("Error: command %s: bad path %q: %v", name, rootPath, err)
			return 1
		}
		if err := c.Roots.EnsureMounted(rootPath); err != nil {
			log.Printf("Error: can't mount %s: %v", rootPath, err)
			return 1
		}
		if recurse {
			err = setHierarchyPermissions(path, int(n[0]), int(n[1]), os.FileMode(n[2]), os.FileMode(n[3]))
		} else {
			err = setPermissions(path, int(n[0]), int(n[1]), os.FileMode(n[2]))
		}
		if err != nil {
			log.Printf("Error: can't chown/mod %s: %v", path, err)
			return 1
		}
	}
	return 0
}

// permArgs splits set_perm arguments into the numeric prefix and the paths.
func permArgs(name string, argv []string, recurse bool) ([]uint64, []string, bool) {
	minArgs := 4
	if recurse {
		minArgs = 5
	}
	if len(argv) < minArgs {
		log.Printf("Error: command %s requires at least %d args", name, minArgs)
		return nil, nil, false
	}
	n := make([]uint64, minArgs-1)
	for i := range n {
		v, err := strconv.ParseUint(argv[i], 0, 32)
		if err != nil {
			log.Printf("Error: command %s: invalid argument %q", name, argv[i])
			return nil, nil, false
		}
		n[i] = v
	}
	if !recurse {
		n = append(n, 0)
	}
	return n, argv[minArgs-1:], true
}

func probeSetPerm(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	recurse := name == "set_perm_recursive"
	numeric := 3
	if recurse {
		numeric = 4
	}
	if len(argv) <= numeric {
		return 1
	}
	requested := permissions.PermChmod | permissions.PermChown | permissions.PermChgrp
	for i, a := range argv[:numeric] {
		// A nil argument is only known at run time.
		if a == nil {
			continue
		}
		v, err := strconv.ParseUint(*a, 0, 32)
		if err != nil {
			return 1
		}
		if i < 2 {
			continue
		}
		if v&0o4000 != 0 {
			requested |= permissions.PermSetuid
		}
		if v&0o2000 != 0 {
			requested |= permissions.PermSetgid
		}
	}
	return requestPaths(c, argv[numeric:], recurse, requested, perms)
}

// show_progress <fraction> <duration>
//
// Dedicates fraction of the script's share of the progress bar to the next
// operation, which is expected to take about duration seconds.
func cmdShowProgress(c *Context, name string, argv []string) int {
	if len(argv) != 2 {
		log.Printf("Error: command %s requires exactly two arguments", name)
		return 1
	}
	fraction, err := strconv.ParseFloat(argv[0], 64)
	if err != nil || fraction < 0 || fraction > 1 {
		log.Printf("Error: command %s: invalid fraction %q", name, argv[0])
		return 1
	}
	duration, err := strconv.ParseUint(argv[1], 0, 32)
	if err != nil {
		log.Printf("Error: command %s: invalid duration %q", name, argv[1])
		return 1
	}

	// Verification took its share before the script started.
	c.UI.ShowProgress(fraction*(1-ui.VerificationProgressFraction), int(duration))
	c.markProgressShown()
	return 0
}

// symlink <link-target> <link-path>
//
// link-path is a root path and must not exist; link-target is written into
// the link as is.
func cmdSymlink(c *Context, name string, argv []string) int {
	if len(argv) != 2 {
		log.Printf("Error: command %s requires exactly two arguments", name)
		return 1
	}
	path, err := c.Roots.TranslateLink(argv[1])
	if err != nil {
		log.Printf("Error: command %s: bad path %q: %v", name, argv[1], err)
		return 1
	}
	if err := c.Roots.EnsureMounted(argv[1]); err != nil {
		log.Printf("Error: can't mount %s: %v", argv[1], err)
		return 1
	}
	if err := os.Symlink(argv[0], path); err != nil {
		log.Printf("Error: can't symlink %s: %v", path, err)
		return 1
	}
	return 0
}

func probeSymlink(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) != 2 {
		return 1
	}
	return requestPaths(c, argv[1:], false, permissions.PermSetWrite, perms)
}

// write_radio_image <src-image>
// write_hboot_image <src-image>
//
// The image is held until the script is done.
func cmdWriteFirmwareImage(c *Context, name string, argv []string) int {
	if len(argv) != 1 {
		log.Printf("Error: command %s requires exactly one argument", name)
		return 1
	}
	var kind string
	switch name {
	case "write_radio_image":
		kind = "radio"
	case "write_hboot_image":
		kind = "hboot"
	default:
		log.Printf("Error: unknown firmware update command %s", name)
		return 1
	}
	if !IsPackagePath(argv[0]) {
		log.Printf("Error: command %s: non-package image file %q not supported", name, argv[0])
		return 1
	}

	c.UI.Print("Extracting %s image...\n", kind)
	data, err := c.Package.ReadAll(argv[0], c.UI.SetProgress)
	if err != nil {
		log.Printf("Error: can't read %s: %v", argv[0], err)
		return 1
	}
	if err := c.Firmware.Remember(kind, data); err != nil {
		log.Printf("Error: can't store %s image: %v", kind, err)
		return 1
	}
	return 0
}

// write_raw_image <src-image> <dest-root>
func cmdWriteRawImage(c *Context, name string, argv []string) int {
	if len(argv) != 2 {
		log.Printf("Error: command %s requires exactly two arguments", name)
		return 1
	}
	src, dst := argv[0], argv[1]
	c.UI.Print("Writing %s...\n", dst)
	c.showDefaultProgress(ui.DefaultImageProgressFraction)

	if !IsPackagePath(src) {
		log.Printf("Error: command %s: non-package source path %q not yet supported", name, src)
		return 255
	}
	data, err := c.Package.ReadAll(src, c.UI.SetProgress)
	if err != nil {
		log.Printf("Error: command %s: %v", name, err)
		return 1
	}
	if err := c.Roots.EnsureUnmounted(dst); err != nil {
		log.Printf("Error: can't unmount %s: %v", dst, err)
		return 1
	}
	partition, err := c.Roots.Partition(dst)
	if err != nil {
		log.Printf("Error: can't find %s: %v", dst, err)
		return 1
	}
	if err := os.MkdirAll(filepath.Dir(partition), 0755); err != nil {
		log.Printf("Error: can't open %s: %v", dst, err)
		return 1
	}
	if err := os.WriteFile(partition, data, 0644); err != nil {
		log.Printf("Error: error writing %s: %v", dst, err)
		return 1
	}
	return 0
}

func probeWriteRawImage(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) != 2 {
		return 1
	}
	return requestPaths(c, argv[1:], false, permissions.PermSetWrite, perms)
}

// mark <resource> dirty|clean
func cmdMark(c *Context, name string, argv []string) int {
	if len(argv) != 2 {
		log.Printf("Error: command %s requires exactly two arguments", name)
		return 1
	}
	resource, mark := argv[0], argv[1]
	if mark != store.MarkDirty && mark != store.MarkClean {
		log.Printf("Error: command %s: invalid mark %q", name, mark)
		return 1
	}
	if err := c.Marks.SetMark(resource, mark); err != nil {
		log.Printf("Error: command %s: %v", name, err)
		return 1
	}
	return 0
}

// done
//
// Installs the pending firmware image, if any.
func cmdDone(c *Context, name string, argv []string) int {
	if len(argv) != 0 {
		log.Printf("Error: command %s takes no arguments", name)
		return 1
	}
	target, err := c.Firmware.Install()
	if err != nil {
		log.Printf("Error: command %s: %v", name, err)
		return 1
	}
	if target != "" {
		c.UI.Print("Firmware image written to %s\n", target)
	}
	c.UI.SetProgress(1)
	return 0
}

// requestPaths adds one request per known root path in argv. Unknown
// values are skipped since they are only resolved at run time.
func requestPaths(c *Context, argv []*string, recursive bool, requested uint32, perms *permissions.RequestList) int {
	for _, a := range argv {
		if a == nil {
			continue
		}
		path, err := c.Roots.DevicePath(*a)
		if err != nil {
			log.Printf("Warning: can't resolve %q: %v", *a, err)
			return 1
		}
		if err := perms.Add(path, recursive, requested); err != nil {
			return 1
		}
	}
	return 0
}

func setPermissions(path string, uid, gid int, mode os.FileMode) error {
	if err := lchown(path, uid, gid); err != nil {
		return err
	}
	return os.Chmod(path, unixMode(mode))
}

// setHierarchyPermissions applies dirMode to every directory and fileMode
// to every other file below root, root included. Symlinks keep their mode.
func setHierarchyPermissions(root string, uid, gid int, dirMode, fileMode os.FileMode) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := lchown(path, uid, gid); err != nil {
			return err
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		case d.IsDir():
			return os.Chmod(path, unixMode(dirMode))
		default:
			return os.Chmod(path, unixMode(fileMode))
		}
	})
}

// lchown changes ownership, only warning when the process lacks the
// privilege.
func lchown(path string, uid, gid int) error {
	err := os.Lchown(path, uid, gid)
	if errors.Is(err, fs.ErrPermission) {
		log.Printf("Warning: can't chown %s to %d:%d: %v", path, uid, gid, err)
		return nil
	}
	return err
}

// unixMode converts raw mode bits, including setuid, setgid and sticky, to
// an os.FileMode.
func unixMode(bits os.FileMode) os.FileMode {
	mode := bits & fs.ModePerm
	if bits&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if bits&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if bits&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}
