package recovery

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lemonberrylabs/amend/pkg/permissions"
)

func boolResult(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// compatible_with(<version>) is "true" if the command set supports the
// named script version.
func fnCompatibleWith(c *Context, name string, argv []string) (int, string) {
	if len(argv) != 1 {
		log.Printf("Error: %s: wrong number of arguments (%d)", name, len(argv))
		return 1, ""
	}
	return 0, boolResult(slices.Contains(c.Versions, argv[0]))
}

// update_forced() is "true" if the device wants the update applied no
// matter what.
func fnUpdateForced(c *Context, name string, argv []string) (int, string) {
	if len(argv) != 0 {
		log.Printf("Error: %s: wrong number of arguments (%d)", name, len(argv))
		return 1, ""
	}
	return 0, boolResult(c.Forced)
}

// get_mark(<resource>) returns the mark last set on resource.
func fnGetMark(c *Context, name string, argv []string) (int, string) {
	if len(argv) != 1 {
		log.Printf("Error: %s: wrong number of arguments (%d)", name, len(argv))
		return 1, ""
	}
	mark, err := c.Marks.GetMark(argv[0])
	if err != nil {
		log.Printf("Error: %s: %v", name, err)
		return 1, ""
	}
	return 0, mark
}

// hash_dir(<root-path>) returns the hex SHA-1 of a directory tree.
func fnHashDir(c *Context, name string, argv []string) (int, string) {
	if len(argv) != 1 {
		log.Printf("Error: %s: wrong number of arguments (%d)", name, len(argv))
		return 1, ""
	}
	dir, err := c.Roots.Translate(argv[0])
	if err != nil {
		log.Printf("Error: %s: bad path %q: %v", name, argv[0], err)
		return 1, ""
	}
	if err := c.Roots.EnsureMounted(argv[0]); err != nil {
		log.Printf("Error: can't mount %s: %v", argv[0], err)
		return 1, ""
	}
	sum, err := HashDir(dir)
	if err != nil {
		log.Printf("Error: %s: %v", name, err)
		return 1, ""
	}
	return 0, sum
}

func probeHashDir(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) != 1 {
		return 1
	}
	return requestPaths(c, argv, true, permissions.PermSetRead, perms)
}

// HashDir hashes every entry below dir in lexical order. Each entry
// contributes its slash-separated relative path and its permission bits,
// followed by its contents for regular files or its target for symlinks.
func HashDir(dir string) (string, error) {
	h := sha1.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%o\x00", filepath.ToSlash(rel), uint32(info.Mode()))

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			io.WriteString(h, target)
		case info.Mode().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// matches(<str>, <str1> [, <strN>...]) returns str if it equals any of the
// following arguments, "" otherwise.
func fnMatches(c *Context, name string, argv []string) (int, string) {
	if len(argv) < 2 {
		log.Printf("Error: %s: not enough arguments (%d < 2)", name, len(argv))
		return 1, ""
	}
	if slices.Contains(argv[1:], argv[0]) {
		return 0, argv[0]
	}
	return 0, ""
}

// concat(<str> [, <strN>...])
func fnConcat(c *Context, name string, argv []string) (int, string) {
	return 0, strings.Join(argv, "")
}

// getprop(<property>) returns the property value, or "" if unset.
func fnGetprop(c *Context, name string, argv []string) (int, string) {
	if len(argv) != 1 {
		log.Printf("Error: command %s requires exactly one argument", name)
		return 1, ""
	}
	return 0, c.Properties[argv[0]]
}

// file_contains(<root-path>, <substring>) is "true" if the file exists and
// contains substring. A missing file is not an error.
func fnFileContains(c *Context, name string, argv []string) (int, string) {
	if len(argv) != 2 {
		log.Printf("Error: command %s requires exactly two arguments", name)
		return 1, ""
	}
	path, err := c.Roots.Translate(argv[0])
	if err != nil {
		log.Printf("Error: command %s: bad path %q: %v", name, argv[0], err)
		return 1, ""
	}
	if err := c.Roots.EnsureMounted(argv[0]); err != nil {
		log.Printf("Error: can't mount %s: %v", argv[0], err)
		return 1, ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("%s: can't read %q: %v", name, path, err)
		return 0, ""
	}
	return 0, boolResult(strings.Contains(string(data), argv[1]))
}

func probeFileContains(c *Context, name string, argv []*string, perms *permissions.RequestList) int {
	if len(argv) != 2 {
		return 1
	}
	return requestPaths(c, argv[:1], false, permissions.PermSetRead, perms)
}
