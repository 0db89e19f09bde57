// Package inputs turns command line arguments and input lists into the
// ordered list of raster paths fed to the catalog.
package inputs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gobwas/glob"
)

// sidecars are never rasters in their own right.
var sidecars = []string{".wld", ".prj", ".xml", ".vrt", ".tfw", ".pgw", ".jgw", ".gfw", ".bpw", ".ovr"}

// IsPattern reports whether s contains glob syntax.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Expand replaces every pattern with the files it matches, in lexical
// order, and keeps literal paths as given so missing files surface as open
// failures. Paths appearing twice are kept once, at their first position.
// `**` matches across directories; `*` stays within one.
func Expand(fsys billy.Filesystem, args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		if !IsPattern(arg) {
			add(arg)
			continue
		}
		matches, err := match(fsys, arg)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func match(fsys billy.Filesystem, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	root := staticPrefix(pattern)
	var matches []string
	err = util.Walk(fsys, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && p == root {
				return fs.SkipDir
			}
			return err
		}
		if info.IsDir() || isSidecar(p) {
			return nil
		}
		if g.Match(p) {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		return nil, fmt.Errorf("expand %q: %w", pattern, err)
	}
	slices.Sort(matches)
	return matches, nil
}

// staticPrefix returns the directory part of pattern that holds no glob
// syntax, where the walk starts.
func staticPrefix(pattern string) string {
	parts := strings.Split(pattern, "/")
	var static []string
	for _, p := range parts[:len(parts)-1] {
		if IsPattern(p) {
			break
		}
		static = append(static, p)
	}
	switch {
	case len(static) == 0:
		return "."
	case len(static) == 1 && static[0] == "":
		return "/"
	default:
		return strings.Join(static, "/")
	}
}

func isSidecar(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return slices.Contains(sidecars, ext) || strings.HasSuffix(strings.ToLower(p), ".aux.xml")
}

// ReadList reads one path per line. Blank lines and lines starting with #
// are skipped.
func ReadList(fsys billy.Filesystem, name string) ([]string, error) {
	data, err := util.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read input list: %w", err)
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input list: %w", err)
	}
	return out, nil
}
