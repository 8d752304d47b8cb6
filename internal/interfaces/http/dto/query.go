package dto

import "docqa-rag-api/internal/application/rag"

// QueryRequest 问答请求
type QueryRequest struct {
	Query         string `json:"query" binding:"required"`
	TopK          int    `json:"top_k,omitempty" binding:"omitempty,min=1"`
	CitationLimit int    `json:"citation_limit,omitempty" binding:"omitempty,min=1"`
}

// ToInput 转换为流水线入参
func (r *QueryRequest) ToInput() rag.QueryInput {
	return rag.QueryInput{Query: r.Query, TopK: r.TopK, CitationLimit: r.CitationLimit}
}

// QueryResponse 问答响应
type QueryResponse struct {
	Answer     string             `json:"answer"`
	Citations  []rag.Citation     `json:"citations"`
	Timing     rag.PipelineTiming `json:"timing"`
	Usage      rag.UsageStats     `json:"usage"`
	Candidates int                `json:"candidates"`
	Dropped    int                `json:"dropped"`
}

// ToQueryResponse 结果为空时返回零值响应
func ToQueryResponse(res *rag.QueryResult) *QueryResponse {
	if res == nil {
		return &QueryResponse{Citations: []rag.Citation{}}
	}
	citations := res.Citations
	if citations == nil {
		citations = []rag.Citation{}
	}
	return &QueryResponse{
		Answer:     res.Answer,
		Citations:  citations,
		Timing:     res.Timing,
		Usage:      res.Usage,
		Candidates: res.Candidates,
		Dropped:    res.Dropped,
	}
}
