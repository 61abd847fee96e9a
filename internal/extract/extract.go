// Package extract implements hardened ZIP extraction for .revsyncpkg tune
// packages.
//
// Defenses, applied in strict order with no further processing once one
// fails:
//
//	1. well-formed ZIP container
//	2. entry count ceiling
//	3. per-entry path safety: no absolute paths, no ".." segments, resolved
//	   path stays inside the extraction root, no symlink entries
//	4. per-entry and total decompressed size ceilings
//	5. compression ratio ceiling (zip bomb)
//	6. entry names within the fixed allow-list and covering the required set
//
// Only after every check passes are any bytes written, and only inside the
// caller-owned extraction directory. The caller destroys that directory on
// every exit path.
package extract

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Limits configures the extraction ceilings. Zero values are replaced by
// the production defaults.
type Limits struct {
	MaxEntries  int
	MaxFileSize int64
	MaxTotal    int64
	MaxRatio    float64
}

// DefaultLimits are conservative production values.
var DefaultLimits = Limits{
	MaxEntries:  10,
	MaxFileSize: 50 * 1024 * 1024,
	MaxTotal:    100 * 1024 * 1024,
	MaxRatio:    100,
}

// AllowedFiles is the full set of filenames permitted in a package.
var AllowedFiles = map[string]struct{}{
	"manifest.json":    {},
	"tune.bin":         {},
	"notes.md":         {},
	"constraints.json": {},
}

// RequiredFiles must all be present in a package.
var RequiredFiles = []string{"manifest.json", "tune.bin"}

// Result describes the outcome of a safe extraction attempt. OK is false
// when a rule was violated; Blockers then holds the first fatal violation.
type Result struct {
	OK         bool
	ExtractDir string
	Blockers   []string
	Warnings   []string
	FileCount  int
	TotalSize  int64
}

func (r *Result) block(format string, args ...any) *Result {
	r.OK = false
	r.Blockers = append(r.Blockers, fmt.Sprintf(format, args...))
	return r
}

// Extractor validates and extracts package archives.
type Extractor struct {
	limits Limits
}

// New returns an Extractor with the given limits; zero fields fall back to
// DefaultLimits.
func New(limits Limits) *Extractor {
	if limits.MaxEntries == 0 {
		limits.MaxEntries = DefaultLimits.MaxEntries
	}
	if limits.MaxFileSize == 0 {
		limits.MaxFileSize = DefaultLimits.MaxFileSize
	}
	if limits.MaxTotal == 0 {
		limits.MaxTotal = DefaultLimits.MaxTotal
	}
	if limits.MaxRatio == 0 {
		limits.MaxRatio = DefaultLimits.MaxRatio
	}
	return &Extractor{limits: limits}
}

// Extract validates zipPath against every rule and, only if all pass,
// extracts it into extractDir. A rule violation is reported in the Result,
// not as an error; the error return is reserved for local I/O failures.
func (e *Extractor) Extract(zipPath, extractDir string) (*Result, error) {
	result := &Result{OK: true, ExtractDir: extractDir}

	info, err := os.Stat(zipPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	compressedSize := info.Size()

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrChecksum) || errors.Is(err, io.ErrUnexpectedEOF) {
			return result.block("file is not a valid ZIP archive"), nil
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	files := fileEntries(zr.File)
	result.FileCount = len(files)
	if result.FileCount > e.limits.MaxEntries {
		return result.block("too many files in archive: %d (max %d)", result.FileCount, e.limits.MaxEntries), nil
	}

	var total int64
	names := make(map[string]struct{}, len(files))
	for _, f := range files {
		name := f.Name
		names[name] = struct{}{}

		if !isSafePath(name, extractDir) {
			return result.block("zip slip detected: malicious path %q", name), nil
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return result.block("symlink entry %q is not permitted", name), nil
		}

		size, ok := declaredSize(f)
		if !ok {
			return result.block("file %q declares an impossible size", name), nil
		}
		if size > e.limits.MaxFileSize {
			return result.block("file %q too large: %d bytes (max %d)", name, size, e.limits.MaxFileSize), nil
		}
		total += size
		if total > e.limits.MaxTotal {
			return result.block("total decompressed size too large: %d bytes (max %d)", total, e.limits.MaxTotal), nil
		}
	}
	result.TotalSize = total

	if compressedSize > 0 {
		ratio := float64(total) / float64(compressedSize)
		if ratio > e.limits.MaxRatio {
			return result.block("suspicious compression ratio %.1f:1 (max %.0f:1)", ratio, e.limits.MaxRatio), nil
		}
	}

	var missing []string
	for _, req := range RequiredFiles {
		if _, ok := names[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return result.block("missing required files: %s", strings.Join(missing, ", ")), nil
	}

	var forbidden []string
	for name := range names {
		if _, ok := AllowedFiles[name]; !ok {
			forbidden = append(forbidden, name)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return result.block("forbidden files in package: %s", strings.Join(forbidden, ", ")), nil
	}

	for _, f := range files {
		if err := extractEntry(f, extractDir); err != nil {
			return nil, fmt.Errorf("extract %q: %w", f.Name, err)
		}
	}
	return result, nil
}

// declaredSize converts the central-directory uncompressed size to int64.
// A forged size beyond the int64 range would otherwise wrap negative and
// slip past the ceilings.
func declaredSize(f *zip.File) (int64, bool) {
	if f.UncompressedSize64 > math.MaxInt64 {
		return 0, false
	}
	return int64(f.UncompressedSize64), true
}

// fileEntries drops directory entries; only regular entries are validated
// and extracted.
func fileEntries(all []*zip.File) []*zip.File {
	files := make([]*zip.File, 0, len(all))
	for _, f := range all {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		files = append(files, f)
	}
	return files
}

// isSafePath rejects absolute entry names and any ".." path segment, then
// confirms the resolved destination remains a descendant of extractDir.
func isSafePath(name, extractDir string) bool {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return false
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}

	root, err := filepath.Abs(extractDir)
	if err != nil {
		return false
	}
	dest := filepath.Clean(filepath.Join(root, filepath.FromSlash(name)))
	if dest == root {
		return true
	}
	return strings.HasPrefix(dest, root+string(os.PathSeparator))
}

func extractEntry(f *zip.File, extractDir string) error {
	dest := filepath.Join(extractDir, filepath.FromSlash(f.Name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	// The size was validated pre-extraction; the LimitReader keeps a lying
	// local header from writing more than the declared size anyway.
	if _, err := io.Copy(out, io.LimitReader(rc, int64(f.UncompressedSize64)+1)); err != nil {
		return err
	}
	return nil
}
