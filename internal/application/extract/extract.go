// Package extract 从上传文件中提取纯文本。
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedType 文件类型不在支持范围内
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrTooLarge 文件超过大小上限
	ErrTooLarge = errors.New("document too large")
	// ErrNotText 内容不是合法的 UTF-8 文本
	ErrNotText = errors.New("document is not valid utf-8 text")
)

var textExtensions = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
	".csv":      {},
	".json":     {},
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor 纯文本提取器
type Extractor struct {
	maxBytes int64
}

// NewExtractor maxBytes <= 0 时不限制大小
func NewExtractor(maxBytes int64) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

// Supported 按扩展名或 Content-Type 判断是否可提取
func Supported(filename, contentType string) bool {
	if _, ok := textExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/json"
}

// Extract 读取全部内容并返回文本，去掉 UTF-8 BOM
func (e *Extractor) Extract(filename, contentType string, r io.Reader) (string, error) {
	if !Supported(filename, contentType) {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filename, contentType)
	}

	reader := r
	if e.maxBytes > 0 {
		reader = io.LimitReader(r, e.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, e.maxBytes)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", ErrNotText
	}
	return string(data), nil
}
