package rag

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultMaxChunkSize 片段长度上限（rune），按 UTF-8 每 rune 最多 4 字节计不超过 65535 字节。
const DefaultMaxChunkSize = 16383

// ChunkOptions 切分参数，单位为 rune。
type ChunkOptions struct {
	ChunkSize int
	Overlap   int
}

// Validate 校验切分参数，maxSize <= 0 时不限制片段长度。
func (o ChunkOptions) Validate(maxSize int) error {
	if o.ChunkSize <= 0 {
		return &ValidationError{Field: "chunk_size", Reason: "must be positive", base: ErrInvalidChunkConfig}
	}
	if maxSize > 0 && o.ChunkSize > maxSize {
		return &ValidationError{Field: "chunk_size", Reason: fmt.Sprintf("must not exceed %d", maxSize), base: ErrInvalidChunkConfig}
	}
	if o.Overlap < 0 {
		return &ValidationError{Field: "overlap", Reason: "must not be negative", base: ErrInvalidChunkConfig}
	}
	if o.Overlap >= o.ChunkSize {
		return &ValidationError{Field: "overlap", Reason: "must be smaller than chunk_size", base: ErrInvalidChunkConfig}
	}
	return nil
}

// Chunker 按固定窗口切分文本，相邻窗口重叠 Overlap 个 rune。
type Chunker struct {
	defaults ChunkOptions
	maxSize  int
}

func NewChunker(defaults ChunkOptions) *Chunker {
	return &Chunker{defaults: defaults, maxSize: DefaultMaxChunkSize}
}

// WithMaxChunkSize 覆盖片段长度上限，n <= 0 表示不限制。
func (c *Chunker) WithMaxChunkSize(n int) *Chunker {
	c.maxSize = n
	return c
}

// Defaults 返回默认切分参数。
func (c *Chunker) Defaults() ChunkOptions {
	return c.defaults
}

// Chunk 切分文本。
//
// 片段内容保持原样（不做 trim），因此去掉第 2 个及之后片段的前 Overlap 个 rune
// 再依次拼接即可还原原文。纯空白窗口会被丢弃，Position 为输出片段的序号。
// 空文档返回空切片且不报错。
func (c *Chunker) Chunk(text, sourceID, title string, opts ChunkOptions) ([]Chunk, error) {
	if err := opts.Validate(c.maxSize); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, nil
	}

	runes := []rune(text)
	step := opts.ChunkSize - opts.Overlap

	out := make([]Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+opts.ChunkSize, len(runes))
		window := runes[start:end]
		if !isBlank(window) {
			out = append(out, Chunk{
				Content:   string(window),
				Position:  len(out),
				SourceID:  sourceID,
				Title:     title,
				ChunkSize: opts.ChunkSize,
				Overlap:   opts.Overlap,
				Offset:    start,
			})
		}
		if end >= len(runes) {
			break
		}
	}
	return out, nil
}

func isBlank(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
