package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func scanPaths(t *testing.T, root string, opts Options) []string {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	files, err := s.ScanAll(context.Background(), root, opts)
	require.NoError(t, err)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

func TestScanSkipsBookkeepingDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "print('hi')\n")
	writeFile(t, root, ".git/config", "[core]\n")
	writeFile(t, root, "node_modules/pkg/index.js", "x\n")
	writeFile(t, root, "__pycache__/main.cpython-312.pyc", "x\n")
	writeFile(t, root, "src/app.py", "pass\n")

	paths := scanPaths(t, root, Options{})
	assert.ElementsMatch(t, []string{"main.py", "src/app.py"}, paths)
}

func TestScanHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\ngenerated/\n/secret.py\n!keep.log\n")
	writeFile(t, root, "app.py", "pass\n")
	writeFile(t, root, "debug.log", "noise\n")
	writeFile(t, root, "keep.log", "kept\n")
	writeFile(t, root, "generated/out.py", "pass\n")
	writeFile(t, root, "secret.py", "pass\n")
	writeFile(t, root, "sub/secret.py", "pass\n")

	paths := scanPaths(t, root, Options{})
	assert.ElementsMatch(t, []string{"app.py", "keep.log", "sub/secret.py"}, paths)
}

func TestScanNestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "pass\n")
	writeFile(t, root, "sub/.gitignore", "local_only.py\n")
	writeFile(t, root, "sub/local_only.py", "pass\n")
	writeFile(t, root, "sub/kept.py", "pass\n")

	paths := scanPaths(t, root, Options{})
	assert.ElementsMatch(t, []string{"a.py", "sub/kept.py"}, paths)
}

func TestScanSkipsBinaryAndOversize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.py", "pass\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0x00, 0x01, 0x02}, 0o644))

	big := make([]byte, 128)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), big, 0o644))

	paths := scanPaths(t, root, Options{MaxFileSize: 64})
	assert.ElementsMatch(t, []string{"ok.py"}, paths)
}

func TestScanSkipsHiddenByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".env", "SECRET=1\n")
	writeFile(t, root, ".config/settings.py", "pass\n")
	writeFile(t, root, "visible.py", "pass\n")

	assert.ElementsMatch(t, []string{"visible.py"}, scanPaths(t, root, Options{}))

	withHidden := scanPaths(t, root, Options{IncludeHidden: true})
	assert.Contains(t, withHidden, ".env")
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("d", string(rune('a'+i))+".py"), "pass\n")
	}
	s, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch, err := s.Scan(ctx, root, Options{})
	require.NoError(t, err)
	n := 0
	for range ch {
		n++
	}
	assert.LessOrEqual(t, n, 1, "cancelled scan stops promptly")
}
