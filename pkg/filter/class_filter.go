// Package filter selects which classes a batch compilation picks up.
//
// Names are binary class names in internal form ("com/example/Foo"). Prefixes may be
// given in either dotted or slashed form.
package filter

import (
	"path/filepath"
	"strings"
	"sync"
)

// ClassCategory represents the category of a class.
type ClassCategory int

const (
	// CategoryUnknown is returned for the empty name.
	CategoryUnknown ClassCategory = iota
	// CategoryJDK covers platform packages.
	CategoryJDK
	// CategoryApplication is everything else.
	CategoryApplication
)

// String returns the string representation of the category.
func (c ClassCategory) String() string {
	switch c {
	case CategoryJDK:
		return "jdk"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

var defaultJDKPrefixes = []string{
	"java/",
	"javax/",
	"jdk/",
	"sun/",
	"com/sun/",
}

// ClassFilter classifies class names and applies include/exclude prefixes.
// It is safe for concurrent use.
type ClassFilter struct {
	mu sync.RWMutex

	jdkPrefixes []string
	include     []string
	exclude     []string

	categoryCache     map[string]ClassCategory
	categoryCacheSize int
}

// NewClassFilter creates a filter. An empty include list admits every class that no
// exclude prefix matches.
func NewClassFilter(include, exclude []string) *ClassFilter {
	f := &ClassFilter{
		jdkPrefixes:       append([]string(nil), defaultJDKPrefixes...),
		categoryCache:     make(map[string]ClassCategory),
		categoryCacheSize: 10000,
	}
	for _, p := range include {
		f.AddIncludePrefix(p)
	}
	for _, p := range exclude {
		f.AddExcludePrefix(p)
	}
	return f
}

// NormalizePrefix converts a dotted package prefix to internal form.
func NormalizePrefix(prefix string) string {
	return strings.ReplaceAll(strings.TrimSpace(prefix), ".", "/")
}

// Classify returns the category of a class.
func (f *ClassFilter) Classify(className string) ClassCategory {
	if className == "" {
		return CategoryUnknown
	}

	f.mu.RLock()
	if cat, ok := f.categoryCache[className]; ok {
		f.mu.RUnlock()
		return cat
	}
	cat := CategoryApplication
	if hasAnyPrefix(className, f.jdkPrefixes) {
		cat = CategoryJDK
	}
	f.mu.RUnlock()

	f.mu.Lock()
	if len(f.categoryCache) < f.categoryCacheSize {
		f.categoryCache[className] = cat
	}
	f.mu.Unlock()
	return cat
}

// IsJDK reports whether the class lives in a platform package.
func (f *ClassFilter) IsJDK(className string) bool {
	return f.Classify(className) == CategoryJDK
}

// Allow reports whether the class passes the include and exclude prefixes.
func (f *ClassFilter) Allow(className string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if hasAnyPrefix(className, f.exclude) {
		return false
	}
	return len(f.include) == 0 || hasAnyPrefix(className, f.include)
}

// AddIncludePrefix adds a package prefix that classes must match.
func (f *ClassFilter) AddIncludePrefix(prefix string) {
	f.addPrefix(&f.include, prefix)
}

// AddExcludePrefix adds a package prefix whose classes are skipped.
func (f *ClassFilter) AddExcludePrefix(prefix string) {
	f.addPrefix(&f.exclude, prefix)
}

// AddJDKPrefix adds a custom platform prefix.
func (f *ClassFilter) AddJDKPrefix(prefix string) {
	f.addPrefix(&f.jdkPrefixes, prefix)
	f.ClearCache()
}

func (f *ClassFilter) addPrefix(list *[]string, prefix string) {
	prefix = NormalizePrefix(prefix)
	if prefix == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range *list {
		if p == prefix {
			return
		}
	}
	*list = append(*list, prefix)
}

// Prefixes returns copies of the include and exclude lists.
func (f *ClassFilter) Prefixes() (include, exclude []string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.include...), append([]string(nil), f.exclude...)
}

// ClearCache clears the classification cache.
func (f *ClassFilter) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categoryCache = make(map[string]ClassCategory)
}

// CacheStats returns cache statistics.
func (f *ClassFilter) CacheStats() (size int, maxSize int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.categoryCache), f.categoryCacheSize
}

// SetCacheSize sets the maximum cache size.
func (f *ClassFilter) SetCacheSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categoryCacheSize = size
	if len(f.categoryCache) > size {
		f.categoryCache = make(map[string]ClassCategory)
	}
}

// ClassNameFromPath derives the binary class name of a .class file from its path
// relative to a class-path root. It returns false for other files.
func ClassNameFromPath(root, path string) (string, bool) {
	if !strings.HasSuffix(path, ".class") {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), ".class"), true
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// DefaultFilter admits every class.
var DefaultFilter = NewClassFilter(nil, nil)

// Classify classifies a class using the default filter.
func Classify(className string) ClassCategory {
	return DefaultFilter.Classify(className)
}

// IsJDK checks a class against the default filter.
func IsJDK(className string) bool {
	return DefaultFilter.IsJDK(className)
}
