package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/recipeworks/recipeforge/internal/ai"
	"github.com/recipeworks/recipeforge/internal/config"
	"github.com/recipeworks/recipeforge/internal/db"
	"github.com/recipeworks/recipeforge/internal/pipeline"
	"github.com/recipeworks/recipeforge/internal/recipe"
	"github.com/recipeworks/recipeforge/internal/stage"
	"github.com/recipeworks/recipeforge/internal/store/redisstore"
	"github.com/recipeworks/recipeforge/internal/worker"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := pipeline.NewRepo(gdb)
	recipes := recipe.NewRepo(gdb)
	checkpoints := pipeline.NewCheckpointManager(repo)

	// Provider registry (route by AI_PROVIDER)
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	textProvider, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatalf("ai provider: %v", err)
	}
	imageProvider := ai.NewImageAPIProvider(cfg.ImageBaseURL, cfg.ImageAPIKey, cfg.ImageModel, cfg.ImageSize)

	orch := pipeline.NewOrchestrator(
		repo,
		checkpoints,
		stage.NewSEOService(textProvider),
		stage.NewImageService(imageProvider),
		stage.NewPublishService(recipes, cfg.SiteBaseURL, pipeline.NewID),
	).WithRunTimeout(cfg.RunTimeout)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rds.Ping(ctx); err != nil {
		log.Printf("worker: redis unavailable, run locks degrade to db checks: %v", err)
	} else {
		orch = orch.WithLocker(rds)
	}
	defer rds.Close()

	handle, err := worker.Start(ctx, worker.Config{
		RabbitURL:   cfg.RabbitURL,
		Queue:       cfg.RabbitQueue,
		Concurrency: worker.Concurrency(),
		Orch:        orch,
	})
	if err != nil {
		log.Fatalf("worker start: %v", err)
	}

	<-ctx.Done()
	log.Printf("worker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout+10*time.Second)
	defer cancel()
	if err := handle.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker: shutdown: %v", err)
	}
}
