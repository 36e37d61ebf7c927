package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/recipeworks/recipeforge/internal/config"
	"github.com/recipeworks/recipeforge/internal/db"
	"github.com/recipeworks/recipeforge/internal/pipeline"
	"github.com/recipeworks/recipeforge/internal/recipe"
)

type fakeRunPublisher struct {
	runs []string // "workItemID/trigger"
}

func (f *fakeRunPublisher) PublishRun(ctx context.Context, workItemID, trigger string) error {
	f.runs = append(f.runs, workItemID+"/"+trigger)
	return nil
}

type apiEnv struct {
	router *gin.Engine
	db     *gorm.DB
	repo   *pipeline.Repo
	pub    *fakeRunPublisher
	token  string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := config.Config{
		JWTSecret:         "test-secret",
		AdminUser:         "admin",
		AdminPasswordHash: string(hash),
		ImageCount:        4,
		SiteBaseURL:       "https://recipes.example.com",
	}

	pub := &fakeRunPublisher{}
	env := &apiEnv{
		router: NewRouter(gdb, cfg, pub),
		db:     gdb,
		repo:   pipeline.NewRepo(gdb),
		pub:    pub,
	}
	env.token = env.login(t, "admin", "s3cret")
	return env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, auth bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", w.Body.String(), err)
	}
	return w, env
}

func (e *apiEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	w, env := e.do(t, http.MethodPost, "/login", gin.H{"username": user, "password": pass}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return data.Token
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newAPIEnv(t)

	w, _ := env.do(t, http.MethodPost, "/login", gin.H{"username": "admin", "password": "wrong"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newAPIEnv(t)

	w, _ := env.do(t, http.MethodPost, "/workitems", gin.H{"title": "x"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/workitems/retriable", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", rec.Code)
	}
}

func TestCreateWorkItem_Idempotent(t *testing.T) {
	env := newAPIEnv(t)
	body := gin.H{
		"title":           "Spicy Tofu Stir Fry",
		"description":     "Crispy tofu.",
		"category":        "dinner",
		"idempotency_key": "scrape-2024-001",
	}

	type createResp struct {
		WorkItemID string `json:"work_item_id"`
		Created    bool   `json:"created"`
	}

	w, resp := env.do(t, http.MethodPost, "/workitems", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var first createResp
	if err := json.Unmarshal(resp.Data, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.Created || first.WorkItemID == "" {
		t.Fatalf("first create = %+v", first)
	}

	_, resp = env.do(t, http.MethodPost, "/workitems", body, true)
	var second createResp
	if err := json.Unmarshal(resp.Data, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Created {
		t.Fatal("duplicate idempotency key created a second item")
	}
	if second.WorkItemID != first.WorkItemID {
		t.Fatalf("ids differ: %s vs %s", first.WorkItemID, second.WorkItemID)
	}
}

func TestRunWorkItem(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	id, _ := pipeline.NewID()
	item := &pipeline.WorkItem{ID: id, SourceTitle: "Spicy Tofu", ImageCount: 4, Status: pipeline.StatusPending}
	if err := env.repo.CreateWorkItem(ctx, item); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, _ := env.do(t, http.MethodPost, "/workitems/"+id+"/run", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if len(env.pub.runs) != 1 || env.pub.runs[0] != id+"/MANUAL" {
		t.Fatalf("published runs = %v", env.pub.runs)
	}

	// a RUNNING execution blocks a second trigger
	execID, _ := pipeline.NewID()
	if err := env.repo.CreateExecution(ctx, &pipeline.Execution{
		ID: execID, WorkItemID: id, Status: pipeline.ExecRunning, Trigger: pipeline.TriggerManual,
	}); err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	w, _ = env.do(t, http.MethodPost, "/workitems/"+id+"/run", nil, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if len(env.pub.runs) != 1 {
		t.Fatalf("conflicting run was enqueued: %v", env.pub.runs)
	}

	w, _ = env.do(t, http.MethodPost, "/workitems/01NOPE0000000000000000000X/run", nil, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRetryWorkItem(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	id, _ := pipeline.NewID()
	failedStage := pipeline.StageImages
	msg := "rate limited"
	item := &pipeline.WorkItem{
		ID: id, SourceTitle: "Spicy Tofu", ImageCount: 4,
		Status:     pipeline.StatusFailed,
		SEOKeyword: "spicy tofu", SEOTitle: "Spicy Tofu", SEODescription: "A stir fry.",
		FailedStage: &failedStage, LastError: &msg,
	}
	if err := env.repo.CreateWorkItem(ctx, item); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, resp := env.do(t, http.MethodPost, "/workitems/"+id+"/retry", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var data struct {
		ResumeStage pipeline.Stage `json:"resume_stage"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.ResumeStage != pipeline.StageImages {
		t.Fatalf("resume stage = %s, want %s", data.ResumeStage, pipeline.StageImages)
	}
	if len(env.pub.runs) != 1 {
		t.Fatalf("published runs = %v", env.pub.runs)
	}

	got, err := env.repo.GetWorkItem(ctx, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != pipeline.StatusSEOProcessed {
		t.Fatalf("status after reset = %s, want %s", got.Status, pipeline.StatusSEOProcessed)
	}
}

func TestGetRecipe_Public(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	recipes := recipe.NewRepo(env.db)
	id, _ := pipeline.NewID()
	rec := &recipe.Recipe{
		ID: id, WorkItemID: "01ITEM0000000000000000000A",
		Title: "Spicy Tofu", Slug: "spicy-tofu", ImageURLs: []string{"https://cdn/a.jpg"},
	}
	if _, _, err := recipes.CreateOrGetExisting(ctx, rec); err != nil {
		t.Fatalf("seed recipe: %v", err)
	}

	for _, key := range []string{id, "spicy-tofu"} {
		w, _ := env.do(t, http.MethodGet, "/recipes/"+key, nil, false)
		if w.Code != http.StatusOK {
			t.Fatalf("get by %q: status = %d", key, w.Code)
		}
	}

	w, _ := env.do(t, http.MethodGet, "/recipes/no-such-recipe", nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSweepDisabledWithoutThreshold(t *testing.T) {
	env := newAPIEnv(t)

	w, _ := env.do(t, http.MethodPost, "/executions/sweep", nil, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}
