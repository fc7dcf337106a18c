package filter

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassFilter_Classify(t *testing.T) {
	f := NewClassFilter(nil, nil)

	tests := []struct {
		className string
		expected  ClassCategory
	}{
		{"", CategoryUnknown},
		{"java/lang/String", CategoryJDK},
		{"javax/servlet/Servlet", CategoryJDK},
		{"sun/misc/Unsafe", CategoryJDK},
		{"com/sun/proxy/$Proxy0", CategoryJDK},
		{"jdk/internal/misc/Unsafe", CategoryJDK},
		{"javafoo/Bar", CategoryApplication},
		{"com/example/MyService", CategoryApplication},
		{"Main", CategoryApplication},
	}

	for _, tt := range tests {
		t.Run(tt.className, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.Classify(tt.className))
		})
	}
}

func TestClassFilter_Allow(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		class   string
		want    bool
	}{
		{"no rules", nil, nil, "com/example/A", true},
		{"included dotted", []string{"com.example."}, nil, "com/example/A", true},
		{"not included", []string{"com/example/"}, nil, "org/other/A", false},
		{"excluded", nil, []string{"com/example/gen"}, "com/example/gen/A", false},
		{"exclude wins", []string{"com/example/"}, []string{"com/example/gen/"}, "com/example/gen/A", false},
		{"include and not excluded", []string{"com/example/"}, []string{"com/example/gen/"}, "com/example/A", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewClassFilter(tt.include, tt.exclude)
			assert.Equal(t, tt.want, f.Allow(tt.class))
		})
	}
}

func TestClassFilter_Prefixes(t *testing.T) {
	f := NewClassFilter([]string{"com.a", "com/a", " "}, []string{"com.a.gen"})
	include, exclude := f.Prefixes()
	assert.Equal(t, []string{"com/a"}, include)
	assert.Equal(t, []string{"com/a/gen"}, exclude)

	include[0] = "mutated"
	again, _ := f.Prefixes()
	assert.Equal(t, "com/a", again[0])
}

func TestClassFilter_AddJDKPrefix(t *testing.T) {
	f := NewClassFilter(nil, nil)
	assert.Equal(t, CategoryApplication, f.Classify("org/graalvm/Foo"))

	f.AddJDKPrefix("org.graalvm.")
	assert.Equal(t, CategoryJDK, f.Classify("org/graalvm/Foo"))
}

func TestClassFilter_Cache(t *testing.T) {
	f := NewClassFilter(nil, nil)
	f.SetCacheSize(2)
	for i := 0; i < 5; i++ {
		f.Classify(fmt.Sprintf("com/example/C%d", i))
	}
	size, maxSize := f.CacheStats()
	assert.Equal(t, 2, size)
	assert.Equal(t, 2, maxSize)

	f.ClearCache()
	size, _ = f.CacheStats()
	assert.Zero(t, size)
}

func TestClassFilter_Concurrent(t *testing.T) {
	f := NewClassFilter([]string{"com/"}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("com/example/C%d", i%4)
			assert.Equal(t, CategoryApplication, f.Classify(name))
			assert.True(t, f.Allow(name))
			f.AddExcludePrefix("org/")
		}(i)
	}
	wg.Wait()
	_, exclude := f.Prefixes()
	assert.Equal(t, []string{"org/"}, exclude)
}

func TestClassNameFromPath(t *testing.T) {
	root := filepath.Join("build", "classes")
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{filepath.Join(root, "com", "example", "Foo.class"), "com/example/Foo", true},
		{filepath.Join(root, "Main.class"), "Main", true},
		{filepath.Join(root, "com", "example", "Foo.java"), "", false},
		{filepath.Join("elsewhere", "Foo.class"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ClassNameFromPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultFilter(t *testing.T) {
	assert.True(t, IsJDK("java/util/List"))
	assert.Equal(t, CategoryApplication, Classify("com/example/Foo"))
}
