package service

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/ajnasrah/viralflow/internal/client"
)

const (
	minScriptLen = 40
	maxScriptLen = 2500
	maxTitleLen  = 50
)

// placeholderMarkers are fragments that indicate the model emitted template
// text instead of a real script. Any of these fails validation outright.
var placeholderMarkers = []string{
	"[INSERT",
	"[insert",
	"PLACEHOLDER",
	"Lorem ipsum",
	"{{",
}

// ScriptResult is the text bundle a workflow needs before rendering.
type ScriptResult struct {
	Script  string `json:"script"`
	Caption string `json:"caption"`
	Title   string `json:"title"`
}

// ScriptGenerator produces validated scripts for a seed.
type ScriptGenerator interface {
	Generate(ctx context.Context, tenant, seedRef string) (*ScriptResult, error)
}

// ScriptService generates short-form video scripts with an LLM and applies
// deterministic validation before anything reaches the renderer.
type ScriptService struct {
	llm client.ChatCompleter
}

func NewScriptService(llm client.ChatCompleter) *ScriptService {
	return &ScriptService{llm: llm}
}

const scriptSystemPrompt = `You write 30-60 second spoken scripts for short-form social video.
Respond with a JSON object only: {"script": "...", "caption": "...", "title": "..."}.
The script is plain spoken text with no camera directions or markdown.
The caption is 1-2 sentences with up to three hashtags. The title is under 50 characters.`

// Generate produces and validates the script bundle for a seed. Validation
// failures are returned as errors; callers fail the workflow without retry
// since regenerating from the same seed yields the same class of output.
func (s *ScriptService) Generate(ctx context.Context, tenant, seedRef string) (*ScriptResult, error) {
	var result *ScriptResult
	if s.llm.IsConfigured() {
		userPrompt := fmt.Sprintf("Topic: %s\nBrand: %s", seedRef, tenant)
		raw, err := s.llm.ChatCompletion(ctx, scriptSystemPrompt, userPrompt)
		if err != nil {
			return nil, fmt.Errorf("script generation failed: %w", err)
		}
		result, err = parseScriptResponse(raw)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("[Script] llm not configured, using mock script for %s", seedRef)
		result = mockScript(seedRef)
	}

	result.Title = NormalizeTitle(result.Title)
	if result.Title == "" {
		result.Title = NormalizeTitle(seedRef)
	}

	if err := ValidateScript(result.Script); err != nil {
		return nil, err
	}
	return result, nil
}

// parseScriptResponse extracts the JSON object from the completion, tolerating
// models that wrap it in code fences or prose.
func parseScriptResponse(raw string) (*ScriptResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("script response contained no JSON object")
	}

	var result ScriptResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to parse script response: %w", err)
	}
	return &result, nil
}

// ValidateScript rejects empty, truncated, runaway and template output.
func ValidateScript(script string) error {
	trimmed := strings.TrimSpace(script)
	if len(trimmed) == 0 {
		return fmt.Errorf("script is empty")
	}
	if len(trimmed) < minScriptLen {
		return fmt.Errorf("script too short (%d chars)", len(trimmed))
	}
	if len(trimmed) > maxScriptLen {
		return fmt.Errorf("script too long (%d chars)", len(trimmed))
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(trimmed, marker) {
			return fmt.Errorf("script contains placeholder text %q", marker)
		}
	}
	return nil
}

// NormalizeTitle decodes HTML entities and truncates to the enhancer's title
// limit, cutting on a word boundary when one is close enough.
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(html.UnescapeString(title))
	if len(t) <= maxTitleLen {
		return t
	}
	cut := t[:maxTitleLen]
	if idx := strings.LastIndex(cut, " "); idx > maxTitleLen/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

func mockScript(seedRef string) *ScriptResult {
	return &ScriptResult{
		Script: fmt.Sprintf(
			"Here's something most people get wrong about %s. The details matter more than you think, "+
				"and the smart move is to understand the fundamentals before you commit. "+
				"Follow for more practical breakdowns like this one.", seedRef),
		Caption: fmt.Sprintf("What nobody tells you about %s #shorts", seedRef),
		Title:   seedRef,
	}
}
