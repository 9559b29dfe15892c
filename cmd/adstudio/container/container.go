package container

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/adstudio/cmd/adstudio/repository"
	"github.com/lyzr/adstudio/cmd/adstudio/service"
	"github.com/lyzr/adstudio/common/bootstrap"
	"github.com/lyzr/adstudio/common/clients"
	rediscommon "github.com/lyzr/adstudio/common/redis"
	"github.com/lyzr/adstudio/common/validation"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	Redis      *rediscommon.Client

	// Repositories
	AdRepo *repository.AdvertisementRepository

	// Clients
	GenAI  clients.GenerativeClient
	Assets clients.AssetStore

	// Services
	GenerationService *service.GenerationService
	ReviewPolicy      *service.ReviewPolicy
	LifecycleService  *service.LifecycleService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config

	// Redis backs the asset store namespaces and the lifecycle event stream
	redisRaw := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisClient := rediscommon.NewClient(redisRaw, components.Logger)

	// Initialize repositories
	adRepo := repository.NewAdvertisementRepository(components.DB)

	// Initialize external clients
	genai, err := clients.NewOpenAIClient(cfg.OpenAI, components.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generative client: %w", err)
	}

	assets, err := clients.NewAssetStore(cfg, redisRaw, components.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}

	// Initialize services (bottom-up: dependencies first)
	validator := validation.NewContentValidator()
	generationService := service.NewGenerationService(
		genai,
		validator,
		cfg.Generation.MaxCopyAttempts,
		components.Logger,
	)

	reviewPolicy, err := buildReviewPolicy(components)
	if err != nil {
		return nil, fmt.Errorf("failed to build review policy: %w", err)
	}

	lifecycleService := service.NewLifecycleService(
		adRepo,
		assets,
		generationService,
		reviewPolicy,
		redisClient,
		components.Cache,
		cfg.Cache.DefaultTTL,
		cfg.Generation.FinalizeAttempts,
		cfg.Generation.FinalizeInterval,
		components.Logger,
	)

	return &Container{
		Components:        components,
		Redis:             redisClient,
		AdRepo:            adRepo,
		GenAI:             genai,
		Assets:            assets,
		GenerationService: generationService,
		ReviewPolicy:      reviewPolicy,
		LifecycleService:  lifecycleService,
	}, nil
}

// buildReviewPolicy compiles configured rules, falling back to defaults
func buildReviewPolicy(components *bootstrap.Components) (*service.ReviewPolicy, error) {
	rules := service.DefaultPolicyRules()

	if raw := components.Config.Review.RulesJSON; raw != "" {
		var configured []service.PolicyRule
		if err := json.Unmarshal([]byte(raw), &configured); err != nil {
			return nil, fmt.Errorf("invalid REVIEW_RULES_JSON: %w", err)
		}
		rules = configured
	}

	return service.NewReviewPolicy(rules, components.Logger)
}
