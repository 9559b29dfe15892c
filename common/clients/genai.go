package clients

import (
	"context"

	"github.com/lyzr/adstudio/common/models"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// GenerativeClient is the provider boundary for the two generative calls.
// Both calls are synchronous from the caller's view; cancellation and
// timeouts travel through the context.
//
// Retry policy does NOT live here: the image and copy calls are issued
// exactly once per invocation, and the lifecycle layer decides which stage
// to re-run.
type GenerativeClient interface {
	// GenerateImage renders the brief's visual description into image bytes
	GenerateImage(ctx context.Context, brief models.Brief) ([]byte, error)

	// GenerateCopy produces raw structured-copy text grounded on the given
	// image. The image is the sole and mandatory grounding input.
	GenerateCopy(ctx context.Context, image []byte, brief models.Brief) (string, error)
}
