package artifact

import (
	"os"
	"path/filepath"
	"strings"
)

// Strategy turns a stored reference into one candidate path, or "" when it
// has no candidate for that reference. Strategies do no I/O.
type Strategy func(ref string) string

// AsGiven joins the reference, as stored, onto base.
func AsGiven(base string) Strategy {
	return func(ref string) string {
		return within(base, ref)
	}
}

// BaseName joins only the final element of the reference onto base.
func BaseName(base string) Strategy {
	return func(ref string) string {
		name := filepath.Base(filepath.FromSlash(ref))
		if name == "." || name == string(filepath.Separator) {
			return ""
		}
		return within(base, name)
	}
}

// within joins ref onto base and refuses results that climb out of base.
func within(base, ref string) string {
	if base == "" || ref == "" {
		return ""
	}
	p := filepath.Join(base, filepath.FromSlash(ref))
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return p
}

// Candidates returns the distinct candidate paths for ref in strategy
// order. An absolute ref is always tried first, verbatim.
func Candidates(ref string, strategies []Strategy) []string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	if filepath.IsAbs(ref) {
		add(filepath.Clean(ref))
	}
	for _, s := range strategies {
		add(s(ref))
	}
	return out
}

// firstRegular returns the first candidate that is an existing regular file.
func firstRegular(candidates []string) (string, bool) {
	for _, p := range candidates {
		fi, err := os.Stat(p)
		if err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
