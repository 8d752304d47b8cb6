package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入校验失败，发生在任何外部调用之前。
	ErrValidation = errors.New("validation failed")

	// ErrInvalidChunkConfig 切分参数不合法（overlap >= chunk_size 等）。
	ErrInvalidChunkConfig = fmt.Errorf("%w: invalid chunk configuration", ErrValidation)

	// ErrNoValidChunks 文档切分后没有任何有效片段。
	ErrNoValidChunks = fmt.Errorf("%w: no valid chunks", ErrValidation)

	ErrEmbeddingFailed = errors.New("embedding failed")
	ErrVectorStore     = errors.New("vector store failed")
	ErrRerankFailed    = errors.New("rerank failed")
	ErrSynthesisFailed = errors.New("synthesis failed")

	// ErrSynthesisEmpty 模型返回了空答案。
	ErrSynthesisEmpty = fmt.Errorf("%w: empty answer", ErrSynthesisFailed)

	// ErrStageTimeout 阶段超过了配置的时限。
	ErrStageTimeout = errors.New("stage timed out")
)

// ValidationError 描述具体哪个字段不合法。
type ValidationError struct {
	Field  string
	Reason string
	base   error
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, base: ErrValidation}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.base }

// EmbeddingError 携带 Embedding 服务返回的原始错误信息。
type EmbeddingError struct {
	Batch int
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding batch %d: %v", e.Batch, e.Err)
}

func (e *EmbeddingError) Unwrap() []error { return []error{ErrEmbeddingFailed, e.Err} }

// Stage 流水线阶段。
type Stage string

const (
	StageChunking     Stage = "chunking"
	StageEmbedding    Stage = "embedding"
	StageUpserting    Stage = "upserting"
	StageRetrieving   Stage = "retrieving"
	StageReranking    Stage = "reranking"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
)

// StageError 由编排层产生，标明失败阶段。
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsValidation 判断错误是否属于输入校验失败。
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
