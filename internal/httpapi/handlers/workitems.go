package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/recipeworks/recipeforge/internal/common"
	"github.com/recipeworks/recipeforge/internal/pipeline"
)

type createWorkItemReq struct {
	Title          string `json:"title" binding:"required"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	ImageCount     int    `json:"image_count"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreateWorkItem ingests one scraped inspiration record as a PENDING work
// item. An idempotency key makes re-posting the same scrape a no-op.
func (h *Handler) CreateWorkItem(c *gin.Context) {
	var req createWorkItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	id, err := pipeline.NewID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to generate id")
		return
	}

	imageCount := req.ImageCount
	if imageCount <= 0 || imageCount > 10 {
		imageCount = h.Cfg.ImageCount
	}

	item := &pipeline.WorkItem{
		ID:                id,
		SourceTitle:       req.Title,
		SourceDescription: req.Description,
		Category:          req.Category,
		ImageCount:        imageCount,
		Status:            pipeline.StatusPending,
	}
	if req.IdempotencyKey != "" {
		item.IdempotencyKey = &req.IdempotencyKey
	}

	saved, created, err := h.Repo.CreateWorkItemOrGetExisting(c.Request.Context(), item)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to create work item")
		return
	}

	common.OK(c, gin.H{
		"work_item_id": saved.ID,
		"status":       saved.Status,
		"created":      created,
	})
}

func (h *Handler) GetWorkItem(c *gin.Context) {
	item, err := h.Repo.GetWorkItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "work item not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load work item")
		return
	}
	common.OK(c, item)
}

// GetResumeSummary reports which stages have completed, without side
// effects.
func (h *Handler) GetResumeSummary(c *gin.Context) {
	summary, err := h.Checkpoints.ResumeSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "work item not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load work item")
		return
	}
	common.OK(c, summary)
}

// ListRetriable returns FAILED and stranded work items.
func (h *Handler) ListRetriable(c *gin.Context) {
	items, err := h.Checkpoints.RetriableEntries(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list retriable items")
		return
	}
	common.OK(c, gin.H{"items": items, "count": len(items)})
}

// RunWorkItem enqueues a manual pipeline run. The run itself happens on a
// worker; poll the execution log for progress.
func (h *Handler) RunWorkItem(c *gin.Context) {
	id := c.Param("id")

	if _, err := h.Repo.GetWorkItem(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "work item not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load work item")
		return
	}

	running, err := h.Repo.HasRunningExecution(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to check running executions")
		return
	}
	if running {
		common.Fail(c, http.StatusConflict, 40901, "work item already has a running execution")
		return
	}

	if err := h.Publisher.PublishRun(c.Request.Context(), id, string(pipeline.TriggerManual)); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50006, "failed to enqueue run")
		return
	}
	common.OK(c, gin.H{"work_item_id": id, "enqueued": true})
}

// RetryWorkItem resets a FAILED item and enqueues a run that resumes at
// the first incomplete stage.
func (h *Handler) RetryWorkItem(c *gin.Context) {
	id := c.Param("id")

	if err := h.Checkpoints.ResetForRetry(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "work item not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50007, "failed to reset work item")
		return
	}

	stage, err := h.Checkpoints.DetermineResumeStage(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load work item")
		return
	}

	if err := h.Publisher.PublishRun(c.Request.Context(), id, string(pipeline.TriggerManual)); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50006, "failed to enqueue run")
		return
	}
	common.OK(c, gin.H{"work_item_id": id, "enqueued": true, "resume_stage": stage})
}

// RetryAll resets and enqueues every retriable work item.
func (h *Handler) RetryAll(c *gin.Context) {
	items, err := h.Checkpoints.RetriableEntries(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list retriable items")
		return
	}

	enqueued := make([]string, 0, len(items))
	for _, item := range items {
		if err := h.Checkpoints.ResetForRetry(c.Request.Context(), item.ID); err != nil {
			continue
		}
		if err := h.Publisher.PublishRun(c.Request.Context(), item.ID, string(pipeline.TriggerManual)); err != nil {
			continue
		}
		enqueued = append(enqueued, item.ID)
	}
	common.OK(c, gin.H{"enqueued": enqueued, "count": len(enqueued)})
}
