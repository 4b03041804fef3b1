package scanner

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/forPelevin/scriptreel/internal/types"
)

const DefaultPattern = "*.md"

// ErrDirectoryNotFound is returned (with an empty result) when the scan root is missing.
var ErrDirectoryNotFound = errors.New("script directory not found")

// Scan finds script files under root whose path matches pattern.
//
// A pattern without "**" is matched at the root and at every depth below it,
// so "*.md" finds root/a.md as well as root/x/y/b.md. A pattern containing
// "**" opts out of that: it is matched once against the path relative to root,
// with "**" standing for a single path element.
//
// Hidden files and directories are skipped. Results are absolute, unique and
// sorted by path.
func Scan(root, pattern string) ([]types.ScriptDescriptor, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	pat := strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	recursive := !strings.Contains(pat, "**")
	if !recursive {
		pat = strings.ReplaceAll(pat, "**", "*")
	}
	if _, err := path.Match(pat, ""); err != nil {
		return nil, fmt.Errorf("script pattern %q: %w", pattern, err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, absRoot)
	}

	seen := make(map[string]struct{})
	var out []types.ScriptDescriptor
	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return err
			}
			// unreadable subtree: skip it, keep scanning
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == absRoot {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}
		if !matches(pat, filepath.ToSlash(rel), recursive) {
			return nil
		}

		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		clean := filepath.Clean(p)
		if _, dup := seen[clean]; dup {
			return nil
		}
		seen[clean] = struct{}{}
		out = append(out, describe(clean, fi.Size()))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan %s: %w", absRoot, walkErr)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func matches(pat, rel string, recursive bool) bool {
	if ok, _ := path.Match(pat, rel); ok {
		return true
	}
	if !recursive {
		return false
	}
	// root/**/pat: try every suffix that starts at an element boundary
	for i := 0; i < len(rel); i++ {
		if rel[i] != '/' {
			continue
		}
		if ok, _ := path.Match(pat, rel[i+1:]); ok {
			return true
		}
	}
	return false
}

func describe(p string, size int64) types.ScriptDescriptor {
	ext := filepath.Ext(p)
	return types.ScriptDescriptor{
		Path:      p,
		Name:      strings.TrimSuffix(filepath.Base(p), ext),
		Extension: ext,
		Size:      size,
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

const sniffBytes = 400

// Check reports why a script cannot be used, or nil when it exists, is
// non-empty and starts with readable text.
func Check(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("script does not exist: %s", p)
	}
	if fi.IsDir() {
		return fmt.Errorf("script is a directory: %s", p)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("script is empty: %s", p)
	}

	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read script: %w", err)
	}
	head := buf[:n]
	if n == sniffBytes {
		// the sniff window may end inside a multi-byte rune
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	if !utf8.Valid(head) {
		return fmt.Errorf("script is not utf-8 text: %s", p)
	}
	if strings.TrimSpace(string(head)) == "" {
		return fmt.Errorf("script contains no content: %s", p)
	}
	return nil
}

// Validate is Check as a predicate; I/O problems count as invalid.
func Validate(p string) bool {
	return Check(p) == nil
}
