package recognizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHallucinationFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hallucinations.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHallucinationFilter_ExactNormalizedMatchDropped(t *testing.T) {
	path := writeHallucinationFile(t, "Thanks for watching", "  ", "subscribe now")
	f := newHallucinationFilter()
	f.load([]string{path})

	assert.True(t, f.isHallucination("thanks for watching"))
	assert.True(t, f.isHallucination("  Thanks For Watching  "))
	assert.False(t, f.isHallucination("let's begin"))
}

func TestHallucinationFilter_LoadsDirectoryRecursively(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "en"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en", "common.txt"), []byte("thanks for watching\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.list"), []byte("subscribe now\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("please ignore me\n"), 0o644))

	f := newHallucinationFilter()
	f.load([]string{dir})

	assert.True(t, f.isHallucination("thanks for watching"))
	assert.True(t, f.isHallucination("subscribe now"))
	assert.False(t, f.isHallucination("please ignore me"))
}

func TestHallucinationFilter_MissingFileDoesNotPanic(t *testing.T) {
	f := newHallucinationFilter()
	f.load([]string{"/nonexistent/path/hallucinations.txt"})
	assert.False(t, f.isHallucination("anything"))
}

func TestHallucinationFilter_LoadsOnce(t *testing.T) {
	path := writeHallucinationFile(t, "noise")
	f := newHallucinationFilter()
	f.load([]string{path})
	// a second load call with a different path is a no-op; the filter
	// already loaded.
	otherPath := writeHallucinationFile(t, "static")
	f.load([]string{otherPath})
	assert.True(t, f.isHallucination("noise"))
	assert.False(t, f.isHallucination("static"))
}
