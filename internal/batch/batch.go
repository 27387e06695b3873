// Package batch discovers the image assets of a source directory.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotDirectory is returned when the source path is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Asset is one source image. Its intrinsic properties are read from content
// when needed and never stored here.
type Asset struct {
	Path       string `json:"path"`
	OutputName string `json:"output_name"`
	Size       int64  `json:"size"`
}

// Skipped records a file that matched the extensions but was left out.
type Skipped struct {
	Path   string
	Reason string
}

// Batch is the set of assets found in one directory.
type Batch struct {
	Dir     string
	Assets  []Asset
	Skipped []Skipped
}

// TotalSize sums the sizes recorded at discovery time.
func (b *Batch) TotalSize() int64 {
	var total int64
	for _, a := range b.Assets {
		total += a.Size
	}
	return total
}

// Paths returns the asset paths in discovery order.
func (b *Batch) Paths() []string {
	paths := make([]string, len(b.Assets))
	for i, a := range b.Assets {
		paths[i] = a.Path
	}
	return paths
}

// Discover lists the files directly inside dir whose extension is in exts.
// Subdirectories are not descended into. Assets are sorted by name and get an
// output name with outputExt; a file whose output name collides with an
// earlier asset is skipped.
func Discover(dir string, exts []string, outputExt string) (*Batch, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	extSet := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		extSet[NormalizeExt(e)] = struct{}{}
	}

	b := &Batch{Dir: dir}
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := extSet[ext]; !ok {
			continue
		}

		path := filepath.Join(dir, name)
		fi, err := entry.Info()
		if err != nil {
			b.Skipped = append(b.Skipped, Skipped{Path: path, Reason: err.Error()})
			continue
		}

		outName := OutputName(name, outputExt)
		if prev, dup := seen[strings.ToLower(outName)]; dup {
			b.Skipped = append(b.Skipped, Skipped{
				Path:   path,
				Reason: fmt.Sprintf("output name %s already taken by %s", outName, prev),
			})
			continue
		}
		seen[strings.ToLower(outName)] = path

		b.Assets = append(b.Assets, Asset{Path: path, OutputName: outName, Size: fi.Size()})
	}

	sort.Slice(b.Assets, func(i, j int) bool { return b.Assets[i].Path < b.Assets[j].Path })
	return b, nil
}

// TotalSize sums the current on-disk size of the given files. Missing files
// contribute nothing.
func TotalSize(paths []string) int64 {
	var total int64
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			total += fi.Size()
		}
	}
	return total
}

// OutputName replaces the extension of name with outputExt.
func OutputName(name, outputExt string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + NormalizeExt(outputExt)
}

// NormalizeExt lower-cases ext and makes sure it starts with a dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
