package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a key has no text in the requested or fallback locale.
var ErrNotFound = errors.New("content not found")

// Store is a key-value content store for localized text.
type Store interface {
	Get(ctx context.Context, locale, key string) (string, error)
}

// Catalog is an in-memory Store loaded from YAML:
//
//	en:
//	  connection.lost: "Connection lost"
//	eu:
//	  connection.lost: "Konexioa galdu da"
type Catalog struct {
	fallback string

	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewCatalog creates an empty catalog that falls back to fallbackLocale.
func NewCatalog(fallbackLocale string) *Catalog {
	return &Catalog{
		fallback: normalizeLocale(fallbackLocale),
		entries:  make(map[string]map[string]string),
	}
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path, fallbackLocale string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}

	c := NewCatalog(fallbackLocale)
	if err := c.Merge(data); err != nil {
		return nil, err
	}
	return c, nil
}

// Merge adds the entries of a YAML document, overriding existing keys.
func (c *Catalog) Merge(data []byte) error {
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse content: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for locale, texts := range doc {
		locale = normalizeLocale(locale)
		if c.entries[locale] == nil {
			c.entries[locale] = make(map[string]string, len(texts))
		}
		for k, v := range texts {
			c.entries[locale][k] = v
		}
	}
	return nil
}

// Set stores a single text.
func (c *Catalog) Set(locale, key, text string) {
	locale = normalizeLocale(locale)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[locale] == nil {
		c.entries[locale] = make(map[string]string)
	}
	c.entries[locale][key] = text
}

// Get resolves key for locale, trying the base language ("eu-ES" -> "eu") and then the
// fallback locale.
func (c *Catalog) Get(_ context.Context, locale, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, candidate := range c.candidates(locale) {
		if text, ok := c.entries[candidate][key]; ok {
			return text, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNotFound, locale, key)
}

func (c *Catalog) candidates(locale string) []string {
	locale = normalizeLocale(locale)
	out := []string{locale}
	if base, _, ok := strings.Cut(locale, "-"); ok {
		out = append(out, base)
	}
	if c.fallback != "" && c.fallback != locale {
		out = append(out, c.fallback)
	}
	return out
}

func normalizeLocale(locale string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
}

// Text resolves key and returns def when the store has nothing for it.
func Text(ctx context.Context, s Store, locale, key, def string) string {
	if s == nil {
		return def
	}
	text, err := s.Get(ctx, locale, key)
	if err != nil || text == "" {
		return def
	}
	return text
}
