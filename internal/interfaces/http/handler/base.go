// Package handler 提供 HTTP 请求处理器
package handler

import (
	stderrors "errors"
	"fmt"

	"docqa-rag-api/internal/application/extract"
	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/pkg/errors"
)

// toAppError 将应用层错误映射为带错误码的 AppError
func toAppError(err error) *errors.AppError {
	if errors.IsAppError(err) {
		return errors.AsAppError(err)
	}

	message := "internal server error"
	var se *rag.StageError
	if stderrors.As(err, &se) {
		message = fmt.Sprintf("%s failed", se.Stage)
	}

	var ve *rag.ValidationError
	switch {
	case stderrors.Is(err, rag.ErrNoValidChunks):
		return errors.Wrap(err, errors.CodeNoValidChunks, "document produced no valid chunks").WithDetail(err.Error())
	case stderrors.As(err, &ve):
		return errors.Wrap(err, errors.CodeValidationFailed, ve.Error())
	case stderrors.Is(err, rag.ErrValidation):
		return errors.Wrap(err, errors.CodeValidationFailed, "validation failed").WithDetail(err.Error())
	case stderrors.Is(err, rag.ErrStageTimeout):
		return errors.Wrap(err, errors.CodeStageTimeout, message+": timeout").WithDetail(err.Error())
	case stderrors.Is(err, rag.ErrEmbeddingFailed):
		return errors.Wrap(err, errors.CodeEmbeddingFailed, message).WithDetail(err.Error())
	case stderrors.Is(err, rag.ErrVectorStore):
		return errors.Wrap(err, errors.CodeVectorDBError, message).WithDetail(err.Error())
	case stderrors.Is(err, rag.ErrRerankFailed):
		return errors.Wrap(err, errors.CodeRerankFailed, message).WithDetail(err.Error())
	case stderrors.Is(err, rag.ErrSynthesisFailed):
		return errors.Wrap(err, errors.CodeLLMCallFailed, message).WithDetail(err.Error())
	case stderrors.Is(err, ingest.ErrJobNotFound):
		return errors.Wrap(err, errors.CodeJobNotFound, "ingest job not found")
	case stderrors.Is(err, extract.ErrUnsupportedType):
		return errors.Wrap(err, errors.CodeUnsupportedMedia, "unsupported document type").WithDetail(err.Error())
	case stderrors.Is(err, extract.ErrTooLarge), stderrors.Is(err, extract.ErrNotText):
		return errors.Wrap(err, errors.CodeInvalidParam, err.Error())
	default:
		return errors.Wrap(err, errors.CodeInternalError, message)
	}
}
