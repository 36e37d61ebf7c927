package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&WorkItem{}, &Execution{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedItem(t *testing.T, repo *Repo, item *WorkItem) *WorkItem {
	t.Helper()
	if item.ID == "" {
		id, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		item.ID = id
	}
	if item.ImageCount == 0 {
		item.ImageCount = 4
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if err := repo.CreateWorkItem(context.Background(), item); err != nil {
		t.Fatalf("create work item: %v", err)
	}
	return item
}

func TestDetermineResumeStage(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	cm := NewCheckpointManager(repo)
	ctx := context.Background()

	recipeID := "01RECIPE00000000000000000X"

	cases := []struct {
		name string
		item *WorkItem
		want Stage
	}{
		{
			name: "fresh item starts at seo",
			item: &WorkItem{SourceTitle: "Spicy Tofu Stir Fry"},
			want: StageSEO,
		},
		{
			name: "seo done resumes at images",
			item: &WorkItem{
				SourceTitle: "Spicy Tofu Stir Fry", Status: StatusSEOProcessed,
				SEOKeyword: "spicy tofu", SEOTitle: "Spicy Tofu", SEODescription: "A stir fry.",
			},
			want: StageImages,
		},
		{
			name: "images done resumes at publish",
			item: &WorkItem{
				SourceTitle: "Spicy Tofu Stir Fry", Status: StatusImagesGenerated,
				SEOKeyword: "spicy tofu", SEOTitle: "Spicy Tofu", SEODescription: "A stir fry.",
				ImageCount: 2, ImageURLs: []string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
			},
			want: StagePublish,
		},
		{
			name: "published item has nothing left",
			item: &WorkItem{
				SourceTitle: "Spicy Tofu Stir Fry", Status: StatusPublished,
				SEOKeyword: "spicy tofu", SEOTitle: "Spicy Tofu", SEODescription: "A stir fry.",
				ImageCount: 1, ImageURLs: []string{"https://cdn/a.jpg"},
				RecipeID: &recipeID,
			},
			want: StageDone,
		},
		{
			name: "partial image set does not count",
			item: &WorkItem{
				SourceTitle: "Spicy Tofu Stir Fry", Status: StatusSEOProcessed,
				SEOKeyword: "spicy tofu", SEOTitle: "Spicy Tofu", SEODescription: "A stir fry.",
				ImageCount: 4, ImageURLs: []string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
			},
			want: StageImages,
		},
		{
			name: "status flag lags behind artifacts",
			// crash window: artifacts landed but flag still PENDING; the
			// field-level check must skip the completed stage anyway
			item: &WorkItem{
				SourceTitle: "Spicy Tofu Stir Fry", Status: StatusPending,
				SEOKeyword: "spicy tofu", SEOTitle: "Spicy Tofu", SEODescription: "A stir fry.",
			},
			want: StageImages,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := seedItem(t, repo, tc.item)
			got, err := cm.DetermineResumeStage(ctx, item.ID)
			if err != nil {
				t.Fatalf("determine resume stage: %v", err)
			}
			if got != tc.want {
				t.Fatalf("resume stage = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestResetForRetry_PreservesArtifacts(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	cm := NewCheckpointManager(repo)
	ctx := context.Background()

	failedStage := StageImages
	errMsg := "image provider unreachable"
	item := seedItem(t, repo, &WorkItem{
		SourceTitle: "Roasted Garlic Soup", Status: StatusFailed,
		SEOKeyword: "garlic soup", SEOTitle: "Garlic Soup", SEODescription: "Cozy.",
		FailedStage: &failedStage, LastError: &errMsg,
	})

	if err := cm.ResetForRetry(ctx, item.ID); err != nil {
		t.Fatalf("reset for retry: %v", err)
	}

	got, err := repo.GetWorkItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get work item: %v", err)
	}
	if got.Status != StatusSEOProcessed {
		t.Fatalf("status = %s, want %s", got.Status, StatusSEOProcessed)
	}
	if got.FailedStage != nil || got.LastError != nil {
		t.Fatalf("error fields not cleared: stage=%v err=%v", got.FailedStage, got.LastError)
	}
	if got.SEOKeyword != "garlic soup" || got.SEOTitle != "Garlic Soup" {
		t.Fatalf("seo artifacts were clobbered: %+v", got)
	}

	// second reset is a no-op
	if err := cm.ResetForRetry(ctx, item.ID); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	again, _ := repo.GetWorkItem(ctx, item.ID)
	if again.Status != StatusSEOProcessed {
		t.Fatalf("second reset changed status to %s", again.Status)
	}
}

func TestResetForRetry_NoArtifactsGoesBackToPending(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	cm := NewCheckpointManager(repo)
	ctx := context.Background()

	item := seedItem(t, repo, &WorkItem{SourceTitle: "Pesto Pasta", Status: StatusFailed})

	if err := cm.ResetForRetry(context.Background(), item.ID); err != nil {
		t.Fatalf("reset for retry: %v", err)
	}
	got, _ := repo.GetWorkItem(ctx, item.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want %s", got.Status, StatusPending)
	}
}

func TestRetriableEntries(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	cm := NewCheckpointManager(repo)
	ctx := context.Background()

	failed := seedItem(t, repo, &WorkItem{SourceTitle: "a", Status: StatusFailed})
	stuck := seedItem(t, repo, &WorkItem{
		SourceTitle: "b", Status: StatusSEOProcessed,
		SEOKeyword: "k", SEOTitle: "t", SEODescription: "d",
	})
	seedItem(t, repo, &WorkItem{SourceTitle: "c", Status: StatusPending})
	recipeID := "01RECIPE00000000000000000X"
	seedItem(t, repo, &WorkItem{SourceTitle: "d", Status: StatusPublished, RecipeID: &recipeID})

	// an intermediate item with a run in flight is not retriable
	inFlight := seedItem(t, repo, &WorkItem{
		SourceTitle: "e", Status: StatusSEOProcessed,
		SEOKeyword: "k", SEOTitle: "t", SEODescription: "d",
	})
	execID, _ := NewID()
	if err := repo.CreateExecution(ctx, &Execution{
		ID: execID, WorkItemID: inFlight.ID, Status: ExecRunning, Trigger: TriggerManual,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	items, err := cm.RetriableEntries(ctx)
	if err != nil {
		t.Fatalf("retriable entries: %v", err)
	}

	ids := map[string]bool{}
	for _, it := range items {
		ids[it.ID] = true
	}
	if len(items) != 2 || !ids[failed.ID] || !ids[stuck.ID] {
		t.Fatalf("retriable = %v, want exactly {%s, %s}", ids, failed.ID, stuck.ID)
	}
}

func TestMarkFailed_NeverRegressesPublished(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	recipeID := "01RECIPE00000000000000000X"
	item := seedItem(t, repo, &WorkItem{SourceTitle: "a", Status: StatusPublished, RecipeID: &recipeID})

	err := repo.MarkFailed(ctx, item.ID, StagePublish, "should not apply")
	if err != ErrStatusConflict {
		t.Fatalf("mark failed on published item: err = %v, want ErrStatusConflict", err)
	}
	got, _ := repo.GetWorkItem(ctx, item.ID)
	if got.Status != StatusPublished {
		t.Fatalf("status regressed to %s", got.Status)
	}
}

func TestNextPending_SkipsRunning(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	first := seedItem(t, repo, &WorkItem{SourceTitle: "older", CreatedAt: time.Now().Add(-time.Hour)})
	second := seedItem(t, repo, &WorkItem{SourceTitle: "newer"})

	// oldest wins
	got, err := repo.NextPending(ctx)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("next pending = %+v, want %s", got, first.ID)
	}

	// a RUNNING execution hides the item from selection
	execID, _ := NewID()
	if err := repo.CreateExecution(ctx, &Execution{
		ID: execID, WorkItemID: first.ID, Status: ExecRunning, Trigger: TriggerSchedule,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	got, err = repo.NextPending(ctx)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("next pending = %+v, want %s", got, second.ID)
	}
}
