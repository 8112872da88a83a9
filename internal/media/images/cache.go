// Package images extracts book covers, caches them on disk and computes their BlurHash
// placeholders.
package images

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotCached is returned by Get when no cover is cached for a book.
var ErrNotCached = errors.New("cover not cached")

// Cache stores cover images on disk, one file per book key.
// Safe for concurrent use.
type Cache struct {
	basePath string
	mu       sync.RWMutex
}

// NewCache creates a cache in {basePath}/covers.
func NewCache(basePath string) (*Cache, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	storagePath := filepath.Join(basePath, "covers")
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create covers directory: %w", err)
	}
	return &Cache{basePath: storagePath}, nil
}

// name maps a book key, which may hold characters unfit for file names, to a stable file stem.
func name(bookKey string) string {
	sum := sha256.Sum256([]byte(bookKey))
	return hex.EncodeToString(sum[:16])
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

// Save stores a cover and returns the hex SHA-256 of its bytes. A previous cover of the book is
// replaced, whatever its media type.
func (c *Cache) Save(bookKey, mediaType string, data []byte) (string, error) {
	if bookKey == "" {
		return "", fmt.Errorf("book key cannot be empty")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image data cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.removeLocked(bookKey); err != nil {
		return "", err
	}
	path := filepath.Join(c.basePath, name(bookKey)+extensionFor(mediaType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cover: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Cache) find(bookKey string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(c.basePath, name(bookKey)+".*"))
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// Get returns the cached cover and its media type.
func (c *Cache) Get(bookKey string) ([]byte, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path, ok := c.find(bookKey)
	if !ok {
		return nil, "", ErrNotCached
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotCached
		}
		return nil, "", fmt.Errorf("failed to read cover: %w", err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return data, mediaType, nil
}

// Exists reports whether a cover is cached for bookKey.
func (c *Cache) Exists(bookKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.find(bookKey)
	return ok
}

// Delete removes the cached cover. Deleting a missing cover is not an error.
func (c *Cache) Delete(bookKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(bookKey)
}

func (c *Cache) removeLocked(bookKey string) error {
	path, ok := c.find(bookKey)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cover: %w", err)
	}
	return nil
}
