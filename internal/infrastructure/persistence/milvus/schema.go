package milvus

import (
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionDocumentChunks 文档片段集合
	CollectionDocumentChunks = "document_chunks"

	// DefaultVectorDimension 未配置维度时的向量维度
	DefaultVectorDimension = 1536

	fieldID        = "id"
	fieldVector    = "vector"
	fieldContent   = "content"
	fieldSource    = "source"
	fieldTitle     = "title"
	fieldPosition  = "position"
	fieldChunkSize = "chunk_size"
	fieldOverlap   = "overlap"
	fieldCreatedAt = "created_at"

	maxContentLength = 65535
	maxSourceLength  = 512
)

// outputFields 检索与查询时返回的标量字段
var outputFields = []string{fieldID, fieldContent, fieldSource, fieldTitle, fieldPosition, fieldChunkSize, fieldOverlap, fieldCreatedAt}

// DocumentChunksSchema 文档片段 Collection Schema，主键由 Milvus 自动分配
func DocumentChunksSchema(collectionName string, dimension int) *entity.Schema {
	if dimension <= 0 {
		dimension = DefaultVectorDimension
	}
	return &entity.Schema{
		CollectionName: collectionName,
		Description:    "Document chunks for question answering",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     fieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dimension),
				},
			},
			{
				Name:     fieldContent,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxContentLength),
				},
			},
			{
				Name:     fieldSource,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxSourceLength),
				},
			},
			{
				Name:     fieldTitle,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxSourceLength),
				},
			},
			{Name: fieldPosition, DataType: entity.FieldTypeInt64},
			{Name: fieldChunkSize, DataType: entity.FieldTypeInt64},
			{Name: fieldOverlap, DataType: entity.FieldTypeInt64},
			{Name: fieldCreatedAt, DataType: entity.FieldTypeInt64},
		},
	}
}

// collectionName 按前缀生成片段集合名，前缀为空时直接使用 CollectionDocumentChunks
func collectionName(prefix string) string {
	if prefix == "" {
		return CollectionDocumentChunks
	}
	return prefix + "_" + CollectionDocumentChunks
}

// sourceFilter 生成按来源精确匹配的过滤表达式
func sourceFilter(source string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return fieldSource + ` == "` + r.Replace(source) + `"`
}

// staleSourceFilter 匹配某来源下 ID 不在 keep 中的片段
func staleSourceFilter(source string, keep []int64) string {
	if len(keep) == 0 {
		return sourceFilter(source)
	}
	ids := make([]string, len(keep))
	for i, id := range keep {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return sourceFilter(source) + " && " + fieldID + " not in [" + strings.Join(ids, ", ") + "]"
}
