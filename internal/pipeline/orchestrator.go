package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/recipeworks/recipeforge/internal/stage"
)

const (
	totalSteps        = 3
	heartbeatInterval = 30 * time.Second
)

// RunLocker guards against two processes running the same work item at
// once. Implementations must be safe across workers (e.g. Redis SET NX).
type RunLocker interface {
	Acquire(ctx context.Context, workItemID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, workItemID string) error
}

// ProgressFunc observes stage transitions. It must not perform
// persistence writes; the orchestrator's recorder owns all ExecutionLog
// mutation.
type ProgressFunc func(step, total int, message string)

// RunRequest asks the orchestrator to drive one work item.
type RunRequest struct {
	WorkItemID string
	Trigger    Trigger
	OnProgress ProgressFunc
}

// RunResult is the structured outcome of a run. The orchestrator never
// leaks errors past its boundary; callers only ever see this.
type RunResult struct {
	Success     bool            `json:"success"`
	WorkItemID  string          `json:"work_item_id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	RecipeID    string          `json:"recipe_id,omitempty"`
	RecipeURL   string          `json:"recipe_url,omitempty"`
	Stage       Stage           `json:"stage,omitempty"` // failing stage when !Success
	ErrorKind   stage.ErrorKind `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Logs        []string        `json:"logs"`
}

// Orchestrator drives a work item through SEO -> Images -> Publish,
// skipping completed stages, persisting after each one, and recording the
// run in an Execution row.
type Orchestrator struct {
	repo        *Repo
	checkpoints *CheckpointManager

	seo       stage.SEOGenerator
	images    stage.ImageGenerator
	publisher stage.Publisher

	locker     RunLocker // optional, nil = repo check only
	runTimeout time.Duration
}

func NewOrchestrator(repo *Repo, checkpoints *CheckpointManager, seo stage.SEOGenerator, images stage.ImageGenerator, publisher stage.Publisher) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		checkpoints: checkpoints,
		seo:         seo,
		images:      images,
		publisher:   publisher,
		runTimeout:  5 * time.Minute,
	}
}

// WithLocker attaches a cross-process run lock.
func (o *Orchestrator) WithLocker(l RunLocker) *Orchestrator {
	o.locker = l
	return o
}

// WithRunTimeout overrides the per-run deadline. Zero disables it.
func (o *Orchestrator) WithRunTimeout(d time.Duration) *Orchestrator {
	o.runTimeout = d
	return o
}

// NextPendingEntry selects the oldest PENDING work item with no run in
// flight, for unattended scheduling. Returns "" when the backlog is empty.
func (o *Orchestrator) NextPendingEntry(ctx context.Context) (string, error) {
	item, err := o.repo.NextPending(ctx)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", nil
	}
	return item.ID, nil
}

type progressEvent struct {
	stage   Stage
	step    int
	message string
}

// ExecutePipeline runs the remaining stages for a work item. Partial
// progress made before a failing stage is retained, which is what makes a
// later retry resume instead of restart.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, req RunRequest) RunResult {
	result := RunResult{WorkItemID: req.WorkItemID}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	item, err := o.repo.GetWorkItem(ctx, req.WorkItemID)
	if err != nil {
		result.ErrorKind = stage.KindInputInvalid
		result.Error = fmt.Sprintf("load work item: %v", err)
		return result
	}

	// Re-entering a FAILED item is always an explicit retry: clear the
	// failure flag back to the status its artifacts justify. Artifacts are
	// untouched so completed stages stay completed.
	if item.Status == StatusFailed {
		if err := o.checkpoints.ResetForRetry(ctx, item.ID); err != nil {
			result.Error = fmt.Sprintf("reset for retry: %v", err)
			return result
		}
		item.Status = statusForArtifacts(item)
		item.FailedStage = nil
		item.LastError = nil
	}

	if o.locker != nil {
		ttl := o.runTimeout
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		ok, lockErr := o.locker.Acquire(ctx, item.ID, ttl)
		if lockErr != nil {
			result.Error = fmt.Sprintf("acquire run lock: %v", lockErr)
			return result
		}
		if !ok {
			result.Error = ErrRunInProgress.Error()
			return result
		}
		defer func() {
			if relErr := o.locker.Release(context.WithoutCancel(ctx), item.ID); relErr != nil {
				log.Printf("orchestrator: release lock item=%s err=%v", item.ID, relErr)
			}
		}()
	}

	running, err := o.repo.HasRunningExecution(ctx, item.ID)
	if err != nil {
		result.Error = fmt.Sprintf("check running executions: %v", err)
		return result
	}
	if running {
		result.Error = ErrRunInProgress.Error()
		return result
	}

	execID, err := NewID()
	if err != nil {
		result.Error = fmt.Sprintf("generate execution id: %v", err)
		return result
	}
	now := time.Now().UTC()
	exec := &Execution{
		ID:          execID,
		WorkItemID:  item.ID,
		Status:      ExecRunning,
		Stage:       ResumeStageFor(item),
		Trigger:     req.Trigger,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	if err := o.repo.CreateExecution(ctx, exec); err != nil {
		result.Error = fmt.Sprintf("create execution: %v", err)
		return result
	}
	result.ExecutionID = execID

	// Recorder: the only writer of execution progress. The emit closure
	// just enqueues, so a misbehaving OnProgress callback can never leave
	// a half-written progress row behind.
	events := make(chan progressEvent, 8)
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		for ev := range events {
			percent := int(math.Round(float64(ev.step) / float64(totalSteps) * 100))
			entry := ProgressEntry{At: time.Now().UTC(), Message: ev.message}
			if err := o.repo.AppendProgress(context.WithoutCancel(ctx), execID, ev.stage, percent, entry); err != nil {
				log.Printf("orchestrator: record progress exec=%s err=%v", execID, err)
			}
			if req.OnProgress != nil {
				req.OnProgress(ev.step, totalSteps, ev.message)
			}
		}
	}()

	// Liveness while stages wait on slow provider calls.
	hbStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbStop:
				return
			case <-ticker.C:
				if err := o.repo.Heartbeat(context.WithoutCancel(ctx), execID); err != nil {
					log.Printf("orchestrator: heartbeat exec=%s err=%v", execID, err)
				}
			}
		}
	}()

	emit := func(st Stage, step int, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		result.Logs = append(result.Logs, msg)
		events <- progressEvent{stage: st, step: step, message: msg}
	}

	recipeID, recipeURL, failStage, runErr := o.runStages(ctx, item, emit)

	close(hbStop)
	close(events)
	<-recorderDone

	if runErr != nil {
		kind := stage.Classify(runErr)
		msg := runErr.Error()
		if err := o.repo.MarkFailed(context.WithoutCancel(ctx), item.ID, failStage, msg); err != nil {
			log.Printf("orchestrator: mark failed item=%s err=%v", item.ID, err)
		}
		if err := o.repo.FinalizeExecution(context.WithoutCancel(ctx), execID, ExecFailed, &failStage, &msg); err != nil {
			log.Printf("orchestrator: finalize exec=%s err=%v", execID, err)
		}
		log.Printf("orchestrator: item=%s failed stage=%s kind=%s err=%v", item.ID, failStage, kind, runErr)

		result.Stage = failStage
		result.ErrorKind = kind
		result.Error = msg
		return result
	}

	if err := o.repo.FinalizeExecution(context.WithoutCancel(ctx), execID, ExecSuccess, nil, nil); err != nil {
		log.Printf("orchestrator: finalize exec=%s err=%v", execID, err)
	}
	log.Printf("orchestrator: item=%s published recipe=%s", item.ID, recipeID)

	result.Success = true
	result.RecipeID = recipeID
	result.RecipeURL = recipeURL
	return result
}

type emitFunc func(st Stage, step int, format string, args ...any)

// runStages executes only the transitions the checkpoint says are left.
// It mutates the in-memory item as artifacts are committed so later
// stages see earlier output without a reload.
func (o *Orchestrator) runStages(ctx context.Context, item *WorkItem, emit emitFunc) (recipeID, recipeURL string, failStage Stage, err error) {
	resume := ResumeStageFor(item)
	if resume == StageDone {
		emit(StageDone, totalSteps, "nothing to do: recipe %s already published", *item.RecipeID)
		return *item.RecipeID, deref(item.RecipeURL), "", nil
	}
	emit(resume, resume.ordinal()-1, "starting at stage %s", resume)

	if resume.ordinal() <= StageSEO.ordinal() {
		art, seoErr := o.seo.Generate(ctx, stage.SEOInput{
			Title:       item.SourceTitle,
			Description: item.SourceDescription,
			Category:    item.Category,
		})
		if seoErr != nil {
			return "", "", StageSEO, seoErr
		}
		if err := o.repo.SaveSEOArtifacts(ctx, item.ID, art.Keyword, art.Title, art.Description); err != nil {
			return "", "", StageSEO, fmt.Errorf("persist seo artifacts: %w", err)
		}
		item.SEOKeyword, item.SEOTitle, item.SEODescription = art.Keyword, art.Title, art.Description
		item.Status = StatusSEOProcessed
		emit(StageSEO, 1, "seo generated: keyword=%q", art.Keyword)
	}

	if resume.ordinal() <= StageImages.ordinal() {
		art, imgErr := o.images.Generate(ctx, stage.ImageInput{
			Keyword:     item.SEOKeyword,
			Title:       item.SEOTitle,
			Description: item.SEODescription,
			Count:       item.ImageCount,
		})
		if imgErr != nil {
			return "", "", StageImages, imgErr
		}
		if err := o.repo.SaveImageArtifacts(ctx, item.ID, art.URLs, art.Prompts); err != nil {
			return "", "", StageImages, fmt.Errorf("persist image artifacts: %w", err)
		}
		item.ImageURLs, item.ImagePrompts = art.URLs, art.Prompts
		item.Status = StatusImagesGenerated
		emit(StageImages, 2, "generated %d images", len(art.URLs))
	}

	pub, pubErr := o.publisher.Publish(ctx, stage.PublishInput{
		WorkItemID:        item.ID,
		SourceTitle:       item.SourceTitle,
		SourceDescription: item.SourceDescription,
		Category:          item.Category,
		SEO: stage.SEOArtifacts{
			Keyword:     item.SEOKeyword,
			Title:       item.SEOTitle,
			Description: item.SEODescription,
		},
		ImageURLs:        item.ImageURLs,
		ExistingRecipeID: deref(item.RecipeID),
	})
	if pubErr != nil {
		return "", "", StagePublish, pubErr
	}
	if !pub.AlreadyPublished || !item.HasRecipe() {
		if err := o.repo.SavePublication(ctx, item.ID, pub.RecipeID, pub.RecipeURL); err != nil {
			return "", "", StagePublish, fmt.Errorf("persist publication: %w", err)
		}
	}
	if pub.AlreadyPublished {
		emit(StagePublish, 3, "%s: recipe %s already exists", stage.KindDuplicatePublish, pub.RecipeID)
	} else {
		emit(StagePublish, 3, "published recipe %s", pub.RecipeID)
	}

	return pub.RecipeID, pub.RecipeURL, "", nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
