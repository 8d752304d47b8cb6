package rag

import (
	"fmt"
	"strings"
)

const synthesisSystemPrompt = `You are a question-answering assistant for a private document collection.
Answer strictly from the numbered sources provided by the user.
Cite every statement with the number of the source it comes from, using markers such as [1] or [2][3].
Only use source numbers that appear in the list.
If the sources do not contain the answer, say that the uploaded documents do not contain enough information.
Do not invent facts.`

// BuildSourcesBlock 将引用片段格式化为可直接注入 Prompt 的编号块。
func BuildSourcesBlock(citations []Citation, maxRunesPerSource int) string {
	if len(citations) == 0 {
		return ""
	}

	lines := make([]string, 0, len(citations))
	for _, c := range citations {
		ref := "source: " + c.Source
		if t := strings.TrimSpace(c.Title); t != "" {
			ref += ", title: " + t
		}
		ref += fmt.Sprintf(", chunk: %d", c.Position)

		txt := compactOneLine(c.Content)
		if maxRunesPerSource > 0 {
			txt = truncateRunes(txt, maxRunesPerSource)
		}
		lines = append(lines, fmt.Sprintf("[%d] (%s) %s", c.Index, ref, txt))
	}
	return strings.Join(lines, "\n")
}

func buildUserPrompt(query string, citations []Citation, maxRunesPerSource int) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n")
	sb.WriteString(BuildSourcesBlock(citations, maxRunesPerSource))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(query))
	sb.WriteString("\n\nAnswer with citations:")
	return sb.String()
}

func compactOneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
