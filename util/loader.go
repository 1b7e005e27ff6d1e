// Package util - Batch input helpers.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ImageExtensions lists the file extensions treated as images.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the trailing number in the file name ("frame-12.jpg" is 12), -1 when absent.
	Frame int
}

// IsImageFile reports whether name has an image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListImageFiles returns the image files in dir, numbered files in frame order first, then the
// rest by name.
//
// Arguments:
// - dir: Directory path containing image files.
// - recursive: Whether to descend into subdirectories.
//
// Returns:
// - []ImageFile: Paths and frame numbers, Data is not loaded.
// - error: Error if the directory cannot be read.
func ListImageFiles(dir string, recursive bool) ([]ImageFile, error) {
	var files []ImageFile

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsImageFile(d.Name()) {
			files = append(files, ImageFile{Path: path, Frame: frameNumber(d.Name())})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if (a.Frame >= 0) != (b.Frame >= 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})

	return files, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := ListImageFiles(dir, false)
	if err != nil {
		return nil, err
	}

	for i := range files {
		data, err := os.ReadFile(files[i].Path)
		if err != nil {
			return nil, err
		}
		files[i].Data = data
	}
	return files, nil
}

// frameNumber parses the digits at the end of a file name without its extension.
func frameNumber(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := len(stem)
	for i > 0 && unicode.IsDigit(rune(stem[i-1])) {
		i--
	}
	if i == len(stem) {
		return -1
	}
	n, err := strconv.Atoi(stem[i:])
	if err != nil {
		return -1
	}
	return n
}
