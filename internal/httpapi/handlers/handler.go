package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/recipeworks/recipeforge/internal/config"
	"github.com/recipeworks/recipeforge/internal/pipeline"
	"github.com/recipeworks/recipeforge/internal/recipe"
)

// RunPublisher enqueues pipeline runs so HTTP triggers stay fire-and-
// forget; callers poll the execution log for progress. Execution itself
// happens on workers, which is why the handlers carry no orchestrator.
type RunPublisher interface {
	PublishRun(ctx context.Context, workItemID, trigger string) error
}

type Handler struct {
	Cfg         config.Config
	Repo        *pipeline.Repo
	Recipes     *recipe.Repo
	Checkpoints *pipeline.CheckpointManager
	Publisher   RunPublisher
}

func NewHandler(db *gorm.DB, cfg config.Config, pub RunPublisher) *Handler {
	repo := pipeline.NewRepo(db)
	return &Handler{
		Cfg:         cfg,
		Repo:        repo,
		Recipes:     recipe.NewRepo(db),
		Checkpoints: pipeline.NewCheckpointManager(repo),
		Publisher:   pub,
	}
}
