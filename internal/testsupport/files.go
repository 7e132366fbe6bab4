package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path with size bytes of a repeating pattern and returns
// the content, so callers can compare what an upload carried. Sizes below one
// are written as a single byte.
func WriteFile(t testing.TB, path string, size int64) []byte {
	t.Helper()

	data := bytes.Repeat([]byte("livecheck-"), int(max(size, 1)/10+1))[:max(size, 1)]
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}
