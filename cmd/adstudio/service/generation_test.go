package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/adstudio/common/logger"
	"github.com/lyzr/adstudio/common/models"
	"github.com/lyzr/adstudio/common/validation"
)

// fakeProvider scripts provider responses per call
type fakeProvider struct {
	imageCalls    int
	copyCalls     int
	imageErr      error
	copyErr       error
	copyResponses []string
}

func (f *fakeProvider) GenerateImage(ctx context.Context, brief models.Brief) ([]byte, error) {
	f.imageCalls++
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return []byte("image-bytes"), nil
}

func (f *fakeProvider) GenerateCopy(ctx context.Context, image []byte, brief models.Brief) (string, error) {
	f.copyCalls++
	if f.copyErr != nil {
		return "", f.copyErr
	}

	idx := f.copyCalls - 1
	if idx >= len(f.copyResponses) {
		idx = len(f.copyResponses) - 1
	}
	return f.copyResponses[idx], nil
}

func copyWithKeywords(t *testing.T, n int) string {
	t.Helper()

	kws := make([]string, n)
	for i := range kws {
		kws[i] = fmt.Sprintf("keyword-%d", i)
	}

	data, err := json.Marshal(models.GeneratedContent{
		Title:       "Drive the Future",
		Description: "A sleek red sports car built for the open road.",
		Keywords:    kws,
	})
	require.NoError(t, err)
	return string(data)
}

func testBrief() models.Brief {
	return models.Brief{
		CampaignName:      "summer-launch",
		ProductName:       "Roadster X",
		TargetAudience:    "urban professionals",
		BrandVoice:        "confident",
		VisualDescription: "red sports car on a coastal highway at sunset",
	}
}

func newGenerationService(provider *fakeProvider, maxAttempts int) *GenerationService {
	return NewGenerationService(
		provider,
		validation.NewContentValidator(),
		maxAttempts,
		logger.New("error", "text"),
	)
}

func TestGenerate_Success(t *testing.T) {
	provider := &fakeProvider{
		copyResponses: []string{copyWithKeywords(t, models.KeywordCount)},
	}
	svc := newGenerationService(provider, 3)

	image, content, err := svc.Generate(context.Background(), testBrief())
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), image)
	assert.Len(t, content.Keywords, models.KeywordCount)
	assert.Equal(t, 1, provider.imageCalls)
	assert.Equal(t, 1, provider.copyCalls)
}

func TestGenerate_StructuralRetryKeepsImage(t *testing.T) {
	// First two copies come back with 14 keywords, third is valid.
	// The image stage must not re-run across the retries.
	provider := &fakeProvider{
		copyResponses: []string{
			copyWithKeywords(t, models.KeywordCount-1),
			copyWithKeywords(t, models.KeywordCount-1),
			copyWithKeywords(t, models.KeywordCount),
		},
	}
	svc := newGenerationService(provider, 3)

	image, content, err := svc.Generate(context.Background(), testBrief())
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), image)
	assert.Len(t, content.Keywords, models.KeywordCount)
	assert.Equal(t, 1, provider.imageCalls)
	assert.Equal(t, 3, provider.copyCalls)
}

func TestGenerate_StructuralRetryExhausted(t *testing.T) {
	provider := &fakeProvider{
		copyResponses: []string{copyWithKeywords(t, models.KeywordCount-1)},
	}
	svc := newGenerationService(provider, 3)

	_, _, err := svc.Generate(context.Background(), testBrief())
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StageCopy, genErr.Stage)
	assert.False(t, genErr.Timeout())

	var structural *validation.StructuralError
	assert.ErrorAs(t, err, &structural)

	assert.Equal(t, 1, provider.imageCalls)
	assert.Equal(t, 3, provider.copyCalls)
}

func TestGenerate_ImageProviderError(t *testing.T) {
	provider := &fakeProvider{imageErr: errors.New("rate limited")}
	svc := newGenerationService(provider, 3)

	_, _, err := svc.Generate(context.Background(), testBrief())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StageImage, genErr.Stage)
	assert.Equal(t, 0, provider.copyCalls)
}

func TestGenerate_CopyProviderErrorNoRetry(t *testing.T) {
	// Provider failures are not structural failures; the bounded retry
	// must not burn attempts on them
	provider := &fakeProvider{copyErr: errors.New("connection reset")}
	svc := newGenerationService(provider, 3)

	_, _, err := svc.Generate(context.Background(), testBrief())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StageCopy, genErr.Stage)
	assert.Equal(t, 1, provider.copyCalls)
}

func TestGenerate_TimeoutSurfaced(t *testing.T) {
	provider := &fakeProvider{
		copyErr: fmt.Errorf("copy generation request: %w", context.DeadlineExceeded),
	}
	svc := newGenerationService(provider, 3)

	_, _, err := svc.Generate(context.Background(), testBrief())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.True(t, genErr.Timeout())
}
