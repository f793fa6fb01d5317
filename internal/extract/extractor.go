// Package extract reads business-rule definitions out of documents.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultMaxBytes = 32 << 20

// formats maps a lowercase extension to its text extractor. Anything else is
// decoded as plain text.
var formats = map[string]func([]byte) (string, error){
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".odt":  extractODT,
	".rtf":  extractRTF,
	".xlsx": extractExcel,
}

var plainFormats = map[string]bool{".txt": true, ".md": true, ".csv": true, ".tsv": true}

// Extractor turns rule documents into text.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes caps the size of files Extract will read. Non-positive values keep the default.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// NewExtractor returns an Extractor that reads files up to 32 MiB.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: defaultMaxBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether ext has an extractor or is a known plain-text format.
func Supported(ext string) bool {
	ext = normalizeExt(ext)
	_, ok := formats[ext]
	return ok || plainFormats[ext]
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if info.Size() > e.maxBytes {
		return "", fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), e.maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content in the format named by ext,
// with or without the leading dot.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := formats[normalizeExt(ext)]; ok {
		return fn(content)
	}
	return extractPlain(content)
}
