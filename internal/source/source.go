// Package source enumerates the documents to ingest.
//
// The filesystem source walks a directory for text files, assigns access
// groups from path patterns and, in watch mode, reports changed files as
// debounced batches.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

// Document is one piece of extracted text ready for chunking.
type Document struct {
	// ID is stable across runs; record ids are derived from it.
	ID           string
	Name         string
	WebURL       string
	LastModified time.Time
	Text         string
	// GroupIDs are the access groups allowed to see the document.
	GroupIDs []string
}

// Source yields documents.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
}

// DocumentID derives the document id from a path relative to the source
// root. The result only holds characters valid in a search key and never
// contains '-', so "{id}-{seq}" splits unambiguously.
func DocumentID(rel string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(rel)))
	return hex.EncodeToString(sum[:16])
}
