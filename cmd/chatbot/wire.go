package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/brunobiu/chatbotprincipal/internal/biz"
	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
	"github.com/brunobiu/chatbotprincipal/internal/biz/usecase"
	"github.com/brunobiu/chatbotprincipal/internal/conf"
	"github.com/brunobiu/chatbotprincipal/internal/data"
	"github.com/brunobiu/chatbotprincipal/internal/infra/feishu"
	"github.com/brunobiu/chatbotprincipal/internal/infra/whatsapp"
	"github.com/brunobiu/chatbotprincipal/internal/service"
)

// app is the wired process
type app struct {
	uc       *biz.Usecases
	orch     *service.Orchestrator
	closers  []func() error
	log      zerolog.Logger
	delivery repo.DeliveryRepo
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
}

// openStore opens the database and the usecases that need nothing but storage
func openStore(cfg *conf.Config, log zerolog.Logger) (*app, error) {
	var embedder repo.Embedder
	var llm *data.OpenAIRepo
	if cfg.OpenAI.APIKey != "" {
		llm = data.NewOpenAIRepo(data.OpenAIConfig{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.OpenAI.Model,
			EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		})
		if cfg.OpenAI.Embeddings {
			embedder = llm
		}
	}

	repos, err := data.NewRepositories(cfg.Database.Path, embedder, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Database.Path).Bool("embeddings", embedder != nil).Msg("database opened")

	prices, fallback := cfg.Prices()
	uc := &biz.Usecases{
		Conversation: usecase.NewConversationUsecase(repos.Conversation),
		Knowledge:    usecase.NewKnowledgeUsecase(repos.Knowledge, usecase.DefaultKnowledgeConfig()),
		Usage:        usecase.NewUsageUsecase(repos.Usage, prices, fallback),
		BotConfig:    usecase.NewBotConfigUsecase(repos.BotConfig, cfg.Pipeline.ConfigCacheTTL, usecase.RealClock()),
	}

	if llm != nil {
		prompts, path, err := conf.LoadPromptsConfig(cfg.PromptsFile)
		if err != nil {
			repos.Close()
			return nil, err
		}
		if path != "" {
			log.Info().Str("path", path).Msg("prompts loaded")
		}
		builder := usecase.NewContextBuilderUsecase(prompts.ToPromptConfig())
		uc.Response = usecase.NewResponseUsecase(llm, builder, usecase.DefaultBlendedConfidence())
	}

	return &app{
		uc:      uc,
		closers: []func() error{repos.Close},
		log:     log,
	}, nil
}

// newApp wires the full pipeline: storage, model, delivery channels and orchestrator
func newApp(ctx context.Context, cfg *conf.Config, log zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	senders := make(map[domain.Channel]data.Sender)
	if cfg.WhatsApp.BridgeURL != "" {
		wa, err := whatsapp.NewClient(cfg.WhatsApp.BridgeURL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		senders[domain.ChannelWhatsApp] = wa
		a.closers = append(a.closers, wa.Close)
	}
	if cfg.Feishu.AppID != "" && cfg.Feishu.AppSecret != "" {
		fs, err := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		senders[domain.ChannelFeishu] = fs
	}

	botConfig := a.uc.BotConfig
	a.delivery = data.NewDeliveryRouter(senders, func(ctx context.Context, tenantID string) domain.Channel {
		return botConfig.Cached(tenantID).Channel
	}, data.DeliveryConfig{
		RatePerSecond: cfg.Delivery.RatePerSecond,
		Burst:         cfg.Delivery.Burst,
	}, log)

	if err := seedTenants(ctx, a, cfg.TenantsFile); err != nil {
		a.Close()
		return nil, err
	}

	a.orch = service.NewOrchestrator(a.uc, a.delivery, usecase.RealClock(), service.OrchestratorConfig{
		GenerationTimeout: cfg.Pipeline.GenerationTimeout,
		RetrieveTimeout:   cfg.Pipeline.RetrieveTimeout,
		FlushTimeout:      cfg.Pipeline.FlushTimeout,
		Persist:           cfg.Pipeline.Persist,
	}, log)
	return a, nil
}

// seedTenants stores tenants from the seed file that are not stored yet and warms the config cache
func seedTenants(ctx context.Context, a *app, path string) error {
	tenants, err := conf.LoadTenants(path)
	if err != nil {
		return err
	}
	n, err := a.uc.BotConfig.Seed(ctx, tenants)
	if err != nil {
		return err
	}
	if len(tenants) > 0 {
		a.log.Info().Int("seeded", n).Int("defined", len(tenants)).Str("path", path).Msg("tenants loaded")
	}
	return a.uc.BotConfig.Warm(ctx)
}
