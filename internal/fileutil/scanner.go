package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ScanOptions configures the source file scan
type ScanOptions struct {
	// Extensions is a list of file extensions to include (e.g. ".cs")
	Extensions []string
	// SkipFilters is a list of regular expressions; any path matching
	// one of them is excluded. Filters are anchored automatically:
	// a bare substring like "obj/" becomes "^.*obj/.*$".
	SkipFilters []string
}

// ScanResult contains the results of a source scan
type ScanResult struct {
	// Files contains the matched file paths, sorted, with forward slashes
	Files []string
	// Errors contains any errors encountered during scanning
	Errors []error
}

// NormalizeSkipFilter anchors a skip filter expression so that bare
// substrings match anywhere in a path.
func NormalizeSkipFilter(expr string) string {
	if !strings.HasPrefix(expr, "^") {
		expr = "^.*" + expr
	}
	if !strings.HasSuffix(expr, "$") {
		expr += ".*$"
	}
	return expr
}

// CompileSkipFilters normalizes and compiles skip filter expressions.
func CompileSkipFilters(filters []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(filters))
	for _, f := range filters {
		re, err := regexp.Compile(NormalizeSkipFilter(f))
		if err != nil {
			return nil, fmt.Errorf("invalid skip filter %q: %w", f, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// ScanDirectory recursively collects files under dir matching the
// options. Skip filters are applied to the slash-separated full path,
// directories included: a filtered directory is not descended into.
func ScanDirectory(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	skip, err := CompileSkipFilters(opts.SkipFilters)
	if err != nil {
		return nil, err
	}

	extMap := make(map[string]bool)
	for _, ext := range opts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[strings.ToLower(ext)] = true
	}

	matchesSkip := func(path string) bool {
		for _, re := range skip {
			if re.MatchString(path) {
				return true
			}
		}
		return false
	}

	result := &ScanResult{Files: make([]string, 0)}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil // Continue walking
		}
		if path == dir {
			return nil
		}

		slashPath := filepath.ToSlash(path)

		if d.IsDir() {
			if matchesSkip(slashPath + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if len(extMap) > 0 && !extMap[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if matchesSkip(slashPath) {
			return nil
		}

		result.Files = append(result.Files, slashPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	// Sort files for consistent output
	sort.Strings(result.Files)

	return result, nil
}

// CopyFile copies src to dst, creating dst's directory when missing.
// The destination keeps the source file's permissions.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("source is a directory: %s", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return nil
}
