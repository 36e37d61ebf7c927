package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/recipeworks/recipeforge/internal/common"
)

// ListExecutions returns the audit trail of runs for one work item,
// newest first.
func (h *Handler) ListExecutions(c *gin.Context) {
	execs, err := h.Repo.ListExecutions(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50008, "failed to list executions")
		return
	}
	common.OK(c, gin.H{"executions": execs, "count": len(execs)})
}

func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.Repo.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "execution not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50008, "failed to load execution")
		return
	}
	common.OK(c, exec)
}

// SweepStaleExecutions fails RUNNING executions whose heartbeat is older
// than the configured threshold. Returns 409 when the sweep is disabled.
func (h *Handler) SweepStaleExecutions(c *gin.Context) {
	if h.Cfg.StaleRunThreshold <= 0 {
		common.Fail(c, http.StatusConflict, 40902, "stale-run sweep disabled: no threshold configured")
		return
	}
	swept, err := h.Repo.SweepStale(c.Request.Context(), h.Cfg.StaleRunThreshold)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50009, "sweep failed")
		return
	}
	common.OK(c, gin.H{"swept": swept, "count": len(swept)})
}

// GetRecipe serves a published recipe by id or slug.
func (h *Handler) GetRecipe(c *gin.Context) {
	key := c.Param("id")

	rec, err := h.Recipes.GetByID(c.Request.Context(), key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec, err = h.Recipes.GetBySlug(c.Request.Context(), key)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "recipe not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50010, "failed to load recipe")
		return
	}
	common.OK(c, rec)
}
