// Package artifacts persists pipeline output: normalized specs, collection trees
// and documentation sites.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Artifact roots.
const (
	RootOpenAPI     = "openapi"
	RootCollections = "collections"
	RootDocs        = "docs"
)

// ErrInvalidKey is returned for keys that are empty, absolute or escape the store root.
var ErrInvalidKey = errors.New("invalid artifact key")

// Store writes artifacts under slash-separated keys. Writes overwrite.
type Store interface {
	// Put writes one object and returns its location.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// ReplaceTree removes everything under prefix, then writes files (keys relative
	// to prefix). It returns the location of prefix.
	ReplaceTree(ctx context.Context, prefix string, files map[string][]byte) (string, error)
	// Location returns where key lives, as a filesystem path or URL.
	Location(key string) string
}

// SpecKey is the key of an item's normalized spec: openapi/<id>/<id>.json.
func SpecKey(id string) string {
	return path.Join(RootOpenAPI, id, id+".json")
}

// CollectionPrefix is the prefix of an item's collection tree.
func CollectionPrefix(id string) string {
	return path.Join(RootCollections, id)
}

// DocsPrefix is the prefix of an item's documentation site.
func DocsPrefix(id string) string {
	return path.Join(RootDocs, id)
}

// cleanKey validates key and returns it in canonical form.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}
