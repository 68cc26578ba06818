package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestDocumentID(t *testing.T) {
	id := DocumentID("hr/policy.txt")

	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.Equal(t, id, DocumentID("hr/policy.txt"))
	assert.NotEqual(t, id, DocumentID("hr/policy.md"))
}

func TestMatcher(t *testing.T) {
	m := NewMatcher("# comment", "*.log", "build/", "/drafts", "!keep.log", "docs/**/tmp")

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"error.log", false, true},
		{"a/b/error.log", false, true},
		{"keep.log", false, false},
		{"build", true, true},
		{"build", false, false},
		{"src/build/out.txt", false, true},
		{"drafts/x.txt", false, true},
		{"src/drafts/x.txt", false, false},
		{"docs/a/b/tmp", false, true},
		{"notes.txt", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir), tt.path)
	}
}

func TestFilesystem_Documents(t *testing.T) {
	// Given: a tree with text, markdown, excluded and foreign files
	root := t.TempDir()
	writeFile(t, root, "readme.md", "# Hello")
	writeFile(t, root, "hr/policy.txt", "Leave policy.")
	writeFile(t, root, "hr/private/salaries.txt", "secret")
	writeFile(t, root, "image.png", "not text")
	writeFile(t, root, "drafts/wip.txt", "draft")
	writeFile(t, root, ".git/HEAD.txt", "ref")
	writeFile(t, root, IgnoreFile, "drafts/\n")

	src, err := NewFilesystem(FilesystemConfig{
		Dir:           root,
		Extensions:    []string{".txt", "md"},
		Exclude:       []string{"private/"},
		DefaultGroups: []string{"public"},
		GroupMap:      map[string][]string{"hr/": {"HR", "Managers"}, "hr/*.txt": {"HR"}},
		URLBase:       "https://docs.example.com/files/",
	})
	require.NoError(t, err)

	// When: listing documents
	docs, err := src.Documents(context.Background())

	// Then: only eligible files, ordered by path, with mapped groups
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "hr/policy.txt", docs[0].Name)
	assert.Equal(t, DocumentID("hr/policy.txt"), docs[0].ID)
	assert.Equal(t, "Leave policy.", docs[0].Text)
	assert.Equal(t, []string{"HR", "Managers"}, docs[0].GroupIDs)
	assert.Equal(t, "https://docs.example.com/files/hr/policy.txt", docs[0].WebURL)
	assert.False(t, docs[0].LastModified.IsZero())

	assert.Equal(t, "readme.md", docs[1].Name)
	assert.Equal(t, []string{"public"}, docs[1].GroupIDs)
}

func TestFilesystem_FileURLWithoutBase(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a b.txt", "x")
	src, err := NewFilesystem(FilesystemConfig{Dir: root, Extensions: []string{".txt"}})
	require.NoError(t, err)

	doc, err := src.Document("a b.txt")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.WebURL, "file://"))
	assert.Contains(t, doc.WebURL, "a%20b.txt")
	assert.Nil(t, doc.GroupIDs)
}

func TestFilesystem_RejectsBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad.txt", string([]byte{0xff, 0xfe, 0x00}))
	src, err := NewFilesystem(FilesystemConfig{Dir: root, Extensions: []string{".txt"}})
	require.NoError(t, err)

	_, err = src.Document("bad.txt")
	assert.Equal(t, dierrors.ErrCodeInvalidInput, dierrors.GetCode(err))

	docs, err := src.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestNewFilesystem_MissingDir(t *testing.T) {
	_, err := NewFilesystem(FilesystemConfig{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Equal(t, dierrors.ErrCodeFileNotFound, dierrors.GetCode(err))
}

func TestFilesystem_Eligible(t *testing.T) {
	src, err := NewFilesystem(FilesystemConfig{Dir: t.TempDir(), Extensions: []string{".txt"}})
	require.NoError(t, err)

	assert.True(t, src.Eligible("a/b.TXT"))
	assert.False(t, src.Eligible("a/b.md"))
	assert.False(t, src.Eligible("../x.txt"))
	assert.False(t, src.Eligible(".git/x.txt"))
}

func waitForChange(t *testing.T, w *Watcher, want Change) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case batch, ok := <-w.Changes():
			require.True(t, ok, "watcher closed")
			for _, c := range batch {
				if c == want {
					return
				}
			}
		case <-timeout:
			t.Fatalf("no %s event for %s", want.Kind, want.Path)
		}
	}
}

func TestWatcher_ReportsChangesAndRemovals(t *testing.T) {
	root := t.TempDir()
	src, err := NewFilesystem(FilesystemConfig{Dir: root, Extensions: []string{".txt"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := src.Watch(ctx, 20*time.Millisecond)
	require.NoError(t, err)

	// When: a file is written, then removed
	writeFile(t, root, "notes.txt", "v1")
	waitForChange(t, w, Change{Path: "notes.txt", Kind: Changed})

	require.NoError(t, os.Remove(filepath.Join(root, "notes.txt")))
	waitForChange(t, w, Change{Path: "notes.txt", Kind: Removed})

	// And a new directory with a file is picked up
	writeFile(t, root, "sub/inner.txt", "v1")
	waitForChange(t, w, Change{Path: "sub/inner.txt", Kind: Changed})

	// Then: cancelling closes the channel
	cancel()
	for range w.Changes() {
	}
}
