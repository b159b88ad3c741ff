package pack

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver locates a pack by Ref using a fixed precedence
// order: an explicit file path, then a built-in pack, then the
// local config directory's cache. It never follows symlinks, since a
// symlinked pack file could point outside the trusted directories
// without the resolver's knowledge.
type Resolver struct {
	// BuiltinDir holds packs shipped with assay-core itself.
	BuiltinDir string
	// ConfigDir holds packs cached from a registry fetch.
	ConfigDir string
	// ExplicitPaths, when non-empty, are searched first, in order,
	// treating each entry as a literal file path rather than a pack
	// name/version lookup.
	ExplicitPaths []string
}

// Resolve returns the filesystem path of ref's pack document, or a
// NotFound *Error carrying a Levenshtein-nearest suggestion from the
// names available across all searched directories.
func (r *Resolver) Resolve(ref Ref) (string, error) {
	for _, p := range r.ExplicitPaths {
		if filepath.Base(strings.TrimSuffix(p, filepath.Ext(p))) == ref.Name {
			if path, ok := statRegular(p); ok {
				return path, nil
			}
		}
	}

	var candidates []string
	for _, dir := range []string{r.BuiltinDir, r.ConfigDir} {
		if dir == "" {
			continue
		}
		path, names := findInDir(dir, ref)
		candidates = append(candidates, names...)
		if path != "" {
			return path, nil
		}
	}

	return "", &Error{Kind: KindNotFound, Ref: ref.Name, Suggestion: nearest(ref.Name, candidates)}
}

// statRegular returns path if it exists as a regular (non-symlink)
// file.
func statRegular(path string) (string, bool) {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSymlink != 0 || !fi.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// findInDir looks for "<name>-<version>.yaml" (or .yml) under dir,
// returning its path if found, plus the pack-name stems seen in dir
// for suggestion purposes.
func findInDir(dir string, ref Ref) (string, []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil
	}
	var names []string
	var found string
	for _, e := range entries {
		if e.IsDir() || e.Type()&os.ModeSymlink != 0 {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ext)
		names = append(names, stripVersion(stem))
		if matchesRef(stem, ref) {
			found = filepath.Join(dir, e.Name())
		}
	}
	return found, names
}

func stripVersion(stem string) string {
	if i := strings.LastIndex(stem, "-"); i >= 0 {
		return stem[:i]
	}
	return stem
}

func matchesRef(stem string, ref Ref) bool {
	if ref.Version == "" {
		return stripVersion(stem) == ref.Name
	}
	return stem == ref.Name+"-"+ref.Version
}

// nearest returns the candidate with the smallest Levenshtein distance
// to name, or "" if candidates is empty.
func nearest(name string, candidates []string) string {
	seen := map[string]bool{}
	var uniq []string
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			uniq = append(uniq, c)
		}
	}
	sort.Strings(uniq)

	best, bestDist := "", -1
	for _, c := range uniq {
		d := levenshtein(name, c)
		if bestDist == -1 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
