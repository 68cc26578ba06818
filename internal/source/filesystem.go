package source

import (
	"context"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// MaxFileSize bounds the files read by the filesystem source.
const MaxFileSize = 10 << 20

// builtinExcludes are always skipped.
var builtinExcludes = []string{".git/", ".docindex/", IgnoreFile}

// FilesystemConfig configures Filesystem.
type FilesystemConfig struct {
	Dir string
	// Extensions lists the file suffixes to read (case-insensitive).
	Extensions []string
	// Exclude patterns apply before the root .docindexignore.
	Exclude []string

	DefaultGroups []string
	// GroupMap maps path patterns to group ids.
	GroupMap map[string][]string

	// URLBase prefixes the escaped relative path to form WebURL; when empty
	// a file:// URL is used.
	URLBase string

	Logger *slog.Logger
}

type groupRule struct {
	pattern pattern
	groups  []string
}

// Filesystem reads documents from a directory tree.
type Filesystem struct {
	root       string
	extensions map[string]bool
	exclude    *Matcher
	groupRules []groupRule
	defaults   []string
	urlBase    string
	logger     *slog.Logger
}

var _ Source = (*Filesystem)(nil)

// NewFilesystem validates cfg and loads the ignore file.
func NewFilesystem(cfg FilesystemConfig) (*Filesystem, error) {
	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, dierrors.ConfigError("cannot resolve source directory", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, dierrors.New(dierrors.ErrCodeFileNotFound, "source directory does not exist", err).
			WithDetail("dir", root)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	exclude := NewMatcher(builtinExcludes...)
	exclude.Add(cfg.Exclude...)
	if err := exclude.AddFile(filepath.Join(root, IgnoreFile)); err != nil {
		return nil, dierrors.New(dierrors.ErrCodeFilePermission, "cannot read "+IgnoreFile, err)
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	keys := make([]string, 0, len(cfg.GroupMap))
	for k := range cfg.GroupMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var rules []groupRule
	for _, k := range keys {
		p, ok := compilePattern(k)
		if !ok || p.negate {
			return nil, dierrors.ConfigError("invalid source.group_map pattern", nil).WithDetail("pattern", k)
		}
		rules = append(rules, groupRule{pattern: p, groups: cfg.GroupMap[k]})
	}

	return &Filesystem{
		root:       root,
		extensions: exts,
		exclude:    exclude,
		groupRules: rules,
		defaults:   slices.Clone(cfg.DefaultGroups),
		urlBase:    strings.TrimRight(cfg.URLBase, "/"),
		logger:     cfg.Logger,
	}, nil
}

// Root returns the absolute source directory.
func (f *Filesystem) Root() string {
	return f.root
}

// Eligible reports whether the relative path names a file this source reads.
func (f *Filesystem) Eligible(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}
	if len(f.extensions) > 0 && !f.extensions[strings.ToLower(path.Ext(rel))] {
		return false
	}
	return !f.exclude.Match(rel, false)
}

// Documents walks the tree and returns every eligible document, ordered by
// relative path.
func (f *Filesystem) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			f.logger.Warn("source_walk_skipped", slog.String("path", p), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, _ := filepath.Rel(f.root, p)
		if d.IsDir() {
			if rel != "." && f.exclude.Match(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.Eligible(rel) {
			return nil
		}

		doc, err := f.Document(rel)
		if err != nil {
			f.logger.Warn("source_file_skipped", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("source_scanned", slog.String("dir", f.root), slog.Int("documents", len(docs)))
	return docs, nil
}

// Document loads one file by relative path.
func (f *Filesystem) Document(rel string) (Document, error) {
	rel = filepath.ToSlash(filepath.Clean(rel))
	abs := filepath.Join(f.root, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		return Document{}, dierrors.New(dierrors.ErrCodeFileNotFound, "cannot stat document", err).
			WithDetail("path", rel)
	}
	if info.Size() > MaxFileSize {
		return Document{}, dierrors.ValidationError("document exceeds the size limit", nil).
			WithDetail("path", rel).
			WithDetail("size", strconv.FormatInt(info.Size(), 10))
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return Document{}, dierrors.New(dierrors.ErrCodeFilePermission, "cannot read document", err).
			WithDetail("path", rel)
	}
	if !utf8.Valid(raw) {
		return Document{}, dierrors.ValidationError("document is not valid UTF-8 text", nil).
			WithDetail("path", rel)
	}

	return Document{
		ID:           DocumentID(rel),
		Name:         rel,
		WebURL:       f.webURL(rel, abs),
		LastModified: info.ModTime().UTC(),
		Text:         string(raw),
		GroupIDs:     f.Groups(rel),
	}, nil
}

// Groups returns the sorted union of groups mapped to rel, or the default
// groups when no pattern matches.
func (f *Filesystem) Groups(rel string) []string {
	rel = filepath.ToSlash(rel)
	var groups []string
	matched := false
	for _, r := range f.groupRules {
		if r.pattern.match(rel, false) {
			matched = true
			groups = append(groups, r.groups...)
		}
	}
	if !matched {
		groups = slices.Clone(f.defaults)
	}
	slices.Sort(groups)
	return slices.Compact(groups)
}

func (f *Filesystem) webURL(rel, abs string) string {
	if f.urlBase == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return f.urlBase + "/" + strings.Join(segs, "/")
}
