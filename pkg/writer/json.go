// Package writer encodes reports and ROM class dumps as JSON, optionally compressed.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/romclass/pkg/compression"
)

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
	// Compression is applied to the encoded document.
	Compression compression.Type
	Level       compression.Level
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// WithCompression returns a copy of w that compresses its output.
func (w *JSONWriter[T]) WithCompression(t compression.Type, level compression.Level) *JSONWriter[T] {
	c := *w
	c.Compression = t
	c.Level = level
	return &c
}

func (w *JSONWriter[T]) encode(data T) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	if err := encoder.Encode(data); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *JSONWriter[T]) compress(raw []byte) ([]byte, error) {
	if w.Compression == compression.TypeNone {
		return raw, nil
	}
	c, err := compression.New(w.Compression, w.Level)
	if err != nil {
		return nil, err
	}
	defer compression.Close(c)
	out, err := c.Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	return out, nil
}

// Write writes the data as JSON to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	_, err := w.write(data, writer)
	return err
}

func (w *JSONWriter[T]) write(data T, writer io.Writer) (*WriteResult, error) {
	raw, err := w.encode(data)
	if err != nil {
		return nil, err
	}
	out, err := w.compress(raw)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(out); err != nil {
		return nil, fmt.Errorf("failed to write data: %w", err)
	}
	res := &WriteResult{JSONSize: int64(len(raw)), WrittenSize: int64(len(out))}
	if len(raw) > 0 {
		res.CompressionPct = float64(len(out)) / float64(len(raw)) * 100
	}
	return res, nil
}

// WriteResult contains statistics about the written file.
type WriteResult struct {
	JSONSize       int64
	WrittenSize    int64
	CompressionPct float64
}

// WriteToFile writes the data to path, appending the compression extension when
// the name lacks it, and returns the path written and size statistics.
func (w *JSONWriter[T]) WriteToFile(data T, path string) (string, *WriteResult, error) {
	if ext := w.Compression.Extension(); ext != "" && !strings.HasSuffix(path, ext) {
		path += ext
	}
	file, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	res, err := w.write(data, file)
	if err != nil {
		return "", nil, err
	}
	return path, res, file.Close()
}
