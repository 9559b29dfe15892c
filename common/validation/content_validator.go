package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/adstudio/common/models"
)

// Bounds of the structural contract for generated copy
const (
	MaxTitleLen       = 80
	MaxDescriptionLen = 500
	MaxKeywordLen     = 40
)

// StructuralError reports which fields of a generated payload violate the
// structural contract
type StructuralError struct {
	Fields []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("content violates structural contract: %s", strings.Join(e.Fields, ", "))
}

// ContentValidator validates raw generated copy against the required shape.
// Stateless and deterministic: same input, same verdict.
type ContentValidator struct{}

// NewContentValidator creates a new content validator
func NewContentValidator() *ContentValidator {
	return &ContentValidator{}
}

// ParseAndValidate parses the raw provider response and enforces the
// structural contract. Returns the typed content or a StructuralError
// naming every offending field.
func (v *ContentValidator) ParseAndValidate(raw string) (*models.GeneratedContent, error) {
	cleaned := stripCodeFences(raw)

	var content models.GeneratedContent
	if err := json.Unmarshal([]byte(cleaned), &content); err != nil {
		return nil, &StructuralError{Fields: []string{"payload"}}
	}

	if err := v.Validate(&content); err != nil {
		return nil, err
	}

	return &content, nil
}

// Validate checks typed content against the structural contract
func (v *ContentValidator) Validate(content *models.GeneratedContent) error {
	var violations []string

	title := strings.TrimSpace(content.Title)
	if title == "" {
		violations = append(violations, "title: empty")
	} else if len(title) > MaxTitleLen {
		violations = append(violations, fmt.Sprintf("title: exceeds %d chars", MaxTitleLen))
	}

	description := strings.TrimSpace(content.Description)
	if description == "" {
		violations = append(violations, "description: empty")
	} else if len(description) > MaxDescriptionLen {
		violations = append(violations, fmt.Sprintf("description: exceeds %d chars", MaxDescriptionLen))
	}

	if len(content.Keywords) != models.KeywordCount {
		violations = append(violations, fmt.Sprintf("keywords: expected %d, got %d", models.KeywordCount, len(content.Keywords)))
	} else {
		for i, keyword := range content.Keywords {
			trimmed := strings.TrimSpace(keyword)
			if trimmed == "" {
				violations = append(violations, fmt.Sprintf("keywords[%d]: empty", i))
			} else if len(trimmed) > MaxKeywordLen {
				violations = append(violations, fmt.Sprintf("keywords[%d]: exceeds %d chars", i, MaxKeywordLen))
			}
		}
	}

	if len(violations) > 0 {
		return &StructuralError{Fields: violations}
	}

	return nil
}

// stripCodeFences removes a surrounding markdown code fence when the model
// wraps its JSON answer in one
func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	return cleaned
}
