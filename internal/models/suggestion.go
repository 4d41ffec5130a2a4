package models

import (
	"time"

	"github.com/google/uuid"
)

// Tool suggestion statuses.
const (
	SuggestionNew         = "New"
	SuggestionReviewed    = "Reviewed"
	SuggestionPlanned     = "Planned"
	SuggestionImplemented = "Implemented"
	SuggestionRejected    = "Rejected"
)

// ValidSuggestionStatus reports whether s is one of the known statuses.
func ValidSuggestionStatus(s string) bool {
	switch s {
	case SuggestionNew, SuggestionReviewed, SuggestionPlanned, SuggestionImplemented, SuggestionRejected:
		return true
	}
	return false
}

type ToolSuggestion struct {
	ID          uuid.UUID `json:"id"`
	ToolName    string    `json:"toolName"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	UserEmail   string    `json:"userEmail"`
	UserID      string    `json:"userId,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      string    `json:"status"`
}
