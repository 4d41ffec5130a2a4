// Package registry describes the tools a user can run and what they cost.
package registry

import (
	"net/http"

	"github.com/autonest/backend/internal/config"
	"github.com/autonest/backend/internal/execution"
)

// Tool is one catalog entry.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
	Method      string `json:"method"`
	InputType   string `json:"inputType"`
	Configured  bool   `json:"configured"`
}

// Catalog is built once from configuration and is read-only afterwards.
type Catalog struct {
	tools []Tool
	byID  map[string]Tool
}

func NewCatalog(cfg config.ToolsConfig) *Catalog {
	tools := []Tool{
		{
			ID:          execution.ToolKeywordSuggestion,
			Name:        "Keyword Suggestions",
			Description: "Suggests search keywords for a topic, ranked by relevance.",
			Cost:        cfg.KeywordCost,
			Method:      http.MethodGet,
			InputType:   "application/json",
			Configured:  cfg.KeywordWebhookURL != "",
		},
		{
			ID:          execution.ToolBlogGeneration,
			Name:        "Blog Post Generator",
			Description: "Drafts a blog post with title, body and meta description.",
			Cost:        cfg.BlogCost,
			Method:      http.MethodPost,
			InputType:   "application/json",
			Configured:  cfg.BlogWebhookURL != "",
		},
		{
			ID:          execution.ToolAudioTranscription,
			Name:        "Audio Transcription",
			Description: "Transcribes an uploaded audio file and summarizes it.",
			Cost:        cfg.TranscriptionCost,
			Method:      http.MethodPost,
			InputType:   "multipart/form-data",
			Configured:  cfg.TranscriptionWebhookURL != "",
		},
		{
			ID:          execution.ToolLinkedInPost,
			Name:        "LinkedIn Post Writer",
			Description: "Writes a LinkedIn post with suggested hashtags.",
			Cost:        cfg.LinkedInCost,
			Method:      http.MethodPost,
			InputType:   "application/json",
			Configured:  cfg.LinkedInWebhookURL != "",
		},
	}
	c := &Catalog{tools: tools, byID: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		c.byID[t.ID] = t
	}
	return c
}

// Endpoints returns the webhook URLs for the execution adapter.
func Endpoints(cfg config.ToolsConfig) execution.Endpoints {
	return execution.Endpoints{
		Keyword:       cfg.KeywordWebhookURL,
		Blog:          cfg.BlogWebhookURL,
		Transcription: cfg.TranscriptionWebhookURL,
		LinkedIn:      cfg.LinkedInWebhookURL,
	}
}

// List returns the tools in display order.
func (c *Catalog) List() []Tool {
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *Catalog) Get(id string) (Tool, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Cost returns the credit price of a tool run.
func (c *Catalog) Cost(id string) (int64, bool) {
	t, ok := c.byID[id]
	return t.Cost, ok
}
