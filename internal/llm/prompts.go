package llm

import (
	_ "embed"
	"strings"
)

//go:embed prompts/document_analysis.txt
var documentAnalysisTemplate string

// SystemPrompt is sent as the system instruction to every provider.
const SystemPrompt = "You are an expert document analyst that always responds with valid JSON."

// BuildPrompt renders the analysis request for text. Callers truncate text first.
func BuildPrompt(text string) string {
	return strings.Replace(documentAnalysisTemplate, "{{DOCUMENT_TEXT}}", text, 1)
}
