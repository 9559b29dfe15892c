package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/adstudio/common/clients"
	"github.com/lyzr/adstudio/common/logger"
	"github.com/lyzr/adstudio/common/models"
	"github.com/lyzr/adstudio/common/validation"
)

// Generation stages for error reporting
const (
	StageImage = "image"
	StageCopy  = "copy"
)

// GenerationError reports a failed generation with the stage that failed.
// The wrapped cause distinguishes provider errors (timeouts included) from
// structural-contract violations, so callers can pick a retry policy per
// class.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s stage: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a provider timeout.
// Timeouts are safe to retry at the caller; structural failures already
// consumed the internal retry budget.
func (e *GenerationError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ContentGenerator produces a generated image and validated copy for a brief
type ContentGenerator interface {
	Generate(ctx context.Context, brief models.Brief) ([]byte, *models.GeneratedContent, error)
}

// GenerationService drives the two-stage generative pipeline.
//
// The stages are not independent: copy is grounded on the generated image.
// A structural failure in the copy therefore retries only the copy stage,
// with the same image. Regenerating the image would silently change the
// visual asset the reviewer later approves.
type GenerationService struct {
	provider        clients.GenerativeClient
	validator       *validation.ContentValidator
	maxCopyAttempts int
	log             *logger.Logger
}

// NewGenerationService creates a new generation service
func NewGenerationService(provider clients.GenerativeClient, validator *validation.ContentValidator, maxCopyAttempts int, log *logger.Logger) *GenerationService {
	if maxCopyAttempts < 1 {
		maxCopyAttempts = 1
	}

	return &GenerationService{
		provider:        provider,
		validator:       validator,
		maxCopyAttempts: maxCopyAttempts,
		log:             log,
	}
}

// Generate runs image generation once, then copy generation with a bounded
// structural-retry loop. Returns the image bytes and validated content.
func (s *GenerationService) Generate(ctx context.Context, brief models.Brief) ([]byte, *models.GeneratedContent, error) {
	image, err := s.provider.GenerateImage(ctx, brief)
	if err != nil {
		return nil, nil, &GenerationError{Stage: StageImage, Err: err}
	}

	copyLog := s.log.WithStage(StageCopy)

	var lastStructural error
	for attempt := 1; attempt <= s.maxCopyAttempts; attempt++ {
		raw, err := s.provider.GenerateCopy(ctx, image, brief)
		if err != nil {
			// Provider-level failure: not a shape problem, so the
			// bounded structural retry does not apply
			return nil, nil, &GenerationError{Stage: StageCopy, Err: err}
		}

		content, err := s.validator.ParseAndValidate(raw)
		if err == nil {
			if attempt > 1 {
				copyLog.Info("copy accepted after structural retries", "attempts", attempt)
			}
			return image, content, nil
		}

		var structural *validation.StructuralError
		if !errors.As(err, &structural) {
			return nil, nil, &GenerationError{Stage: StageCopy, Err: err}
		}

		lastStructural = err
		copyLog.Warn("generated copy violates structural contract, retrying with same image",
			"attempt", attempt,
			"max_attempts", s.maxCopyAttempts,
			"violations", structural.Fields,
		)
	}

	return nil, nil, &GenerationError{Stage: StageCopy, Err: lastStructural}
}
