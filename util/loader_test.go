package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "frame-10.jpg", "10")
	touch(t, dir, "frame-2.JPG", "2")
	touch(t, dir, "snail.webp", "w")
	touch(t, dir, "beach.png", "p")
	touch(t, dir, "notes.txt", "x")
	touch(t, dir, "nested/frame-1.jpeg", "1")

	files, err := ListImageFiles(dir, false)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
		assert.Nil(t, f.Data)
	}
	assert.Equal(t, []string{"frame-2.JPG", "frame-10.jpg", "beach.png", "snail.webp"}, names)

	files, err = ListImageFiles(dir, true)
	require.NoError(t, err)
	require.Len(t, files, 5)
	assert.Equal(t, "frame-1.jpeg", filepath.Base(files[0].Path), "Recursive listing includes subdirectories")
}

func TestLoadDirectoryImageFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a1.png", "one")
	touch(t, dir, "a3.png", "three")

	files, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []byte("one"), files[0].Data)
	assert.Equal(t, 3, files[1].Frame)

	_, err = LoadDirectoryImageFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFrameNumber(t *testing.T) {
	tests := map[string]int{
		"frame-12.jpg": 12,
		"0007.png":     7,
		"snail.jpg":    -1,
		"x9y.jpg":      -1,
	}
	for name, want := range tests {
		assert.Equal(t, want, frameNumber(name), name)
	}
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a.WEBP"))
	assert.True(t, IsImageFile("dir/a.jpeg"))
	assert.False(t, IsImageFile("a.gif"))
	assert.False(t, IsImageFile("jpg"))
}
