package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lyzr/adstudio/common/config"
	"github.com/lyzr/adstudio/common/models"
)

const copySystemPrompt = `You are an advertising copywriter. You are shown a generated ad image and a campaign brief. Write copy that matches what is actually visible in the image.

Output as JSON only, no other text:
{
  "title": "ad headline, at most 80 characters",
  "description": "ad body copy, at most 500 characters",
  "keywords": ["exactly 15 search keywords, each at most 40 characters"]
}

The keywords array MUST contain exactly 15 entries. Do not wrap the JSON in markdown fences.`

// OpenAIClient implements GenerativeClient against the OpenAI API:
// Images for text-to-image, Chat Completions vision for image-to-copy
type OpenAIClient struct {
	client     *openai.Client
	imageModel openai.ImageModel
	copyModel  openai.ChatModel
	imageSize  openai.ImageGenerateParamsSize
	timeout    time.Duration
	logger     Logger
}

// NewOpenAIClient creates a new OpenAI generative client
func NewOpenAIClient(cfg config.OpenAIConfig, logger Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))

	return &OpenAIClient{
		client:     &client,
		imageModel: openai.ImageModel(cfg.ImageModel),
		copyModel:  openai.ChatModel(cfg.CopyModel),
		imageSize:  openai.ImageGenerateParamsSize(cfg.ImageSize),
		timeout:    cfg.RequestTimeout,
		logger:     logger,
	}, nil
}

// GenerateImage renders the brief into image bytes via the Images API
func (c *OpenAIClient) GenerateImage(ctx context.Context, brief models.Brief) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := imagePrompt(brief)
	c.logger.Debug("requesting image generation", "model", c.imageModel, "prompt_len", len(prompt))

	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          c.imageModel,
		Size:           c.imageSize,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		N:              openai.Int(1),
	})
	if err != nil {
		return nil, fmt.Errorf("image generation request: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation returned no data")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}

	c.logger.Info("image generated", "model", c.imageModel, "size_bytes", len(raw))
	return raw, nil
}

// GenerateCopy produces raw copy text grounded on the generated image
func (c *OpenAIClient) GenerateCopy(ctx context.Context, image []byte, brief models.Brief) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.copyModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(copySystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(copyPrompt(brief)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	})
	if err != nil {
		return "", fmt.Errorf("copy generation request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("copy generation returned no choices")
	}

	c.logger.Debug("copy generated", "model", c.copyModel)
	return resp.Choices[0].Message.Content, nil
}

// imagePrompt builds the text-to-image prompt from the brief
func imagePrompt(brief models.Brief) string {
	var sb strings.Builder
	sb.WriteString(brief.VisualDescription)

	if brief.DesignSpecs.Palette != "" {
		sb.WriteString(fmt.Sprintf(". Color palette: %s", brief.DesignSpecs.Palette))
	}
	if brief.DesignSpecs.AspectRatio != "" {
		sb.WriteString(fmt.Sprintf(". Composition suited for %s aspect ratio", brief.DesignSpecs.AspectRatio))
	}
	if brief.DesignSpecs.StyleHints != "" {
		sb.WriteString(fmt.Sprintf(". Style: %s", brief.DesignSpecs.StyleHints))
	}

	return sb.String()
}

// copyPrompt builds the image-to-copy user prompt from the brief
func copyPrompt(brief models.Brief) string {
	var sb strings.Builder
	sb.WriteString("Write ad copy for the attached image.\n")
	fmt.Fprintf(&sb, "Campaign: %s\n", brief.CampaignName)
	fmt.Fprintf(&sb, "Product: %s\n", brief.ProductName)

	if brief.TargetAudience != "" {
		fmt.Fprintf(&sb, "Target audience: %s\n", brief.TargetAudience)
	}
	if brief.BrandVoice != "" {
		fmt.Fprintf(&sb, "Brand voice: %s\n", brief.BrandVoice)
	}

	return sb.String()
}
