package optimizations_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/bootstrap"
	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/workflow"
)

// noopQueue keeps created optimizations queued so tests drive processing
// explicitly instead of racing an in-process goroutine.
type noopQueue struct{}

func (noopQueue) Send(ctx context.Context, msg queue.Message) error { return nil }

type passLLM struct{}

func (passLLM) Generate(ctx context.Context, in workflow.GenerateInput) (string, error) {
	return "- Built a billing pipeline processing 2M invoices monthly\n" +
		"- Reduced infra spend 30% by right-sizing the worker fleet\n" +
		"- Drove adoption of structured logging across 9 services\n" +
		"- Cut release lead time from days to under an hour", nil
}

func (passLLM) Evaluate(ctx context.Context, in workflow.EvaluateInput) (workflow.Evaluation, error) {
	return workflow.Evaluation{Grade: workflow.GradePass}, nil
}

func (passLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return "", errors.New("not used")
}

func buildApp(t *testing.T) *bootstrap.App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Port:            "0",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		LocalStoreDir:   t.TempDir(),
		Env:             "dev",
		ObjectStoreType: "local",
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	app.OptimizationsService.Queue = noopQueue{}
	return app
}

func startOptimization(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimizations", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestOptimizationsCreateAndGet(t *testing.T) {
	app := buildApp(t)

	resp := startOptimization(t, app.Router, `{"job":"Backend Engineer at a payments startup"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var created struct {
		OptimizationID string `json:"optimizationId"`
		Status         string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.OptimizationID == "" {
		t.Fatal("expected optimizationId, got empty")
	}
	if created.Status != "queued" {
		t.Fatalf("expected status queued, got %s", created.Status)
	}

	app.OptimizationsService.LLM = passLLM{}
	if err := app.OptimizationsService.ProcessOptimization(context.Background(), created.OptimizationID); err != nil {
		t.Fatalf("process: %v", err)
	}

	reqGet := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+created.OptimizationID, nil)
	addGuestHeader(reqGet)
	respGet := httptest.NewRecorder()
	app.Router.ServeHTTP(respGet, reqGet)

	if respGet.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", respGet.Code, respGet.Body.String())
	}

	var got struct {
		Status     string   `json:"status"`
		Accepted   bool     `json:"accepted"`
		Forced     bool     `json:"forced"`
		Iterations int      `json:"iterations"`
		Bullets    []string `json:"bullets"`
		Grades     []string `json:"grades"`
	}
	if err := json.NewDecoder(respGet.Body).Decode(&got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Status != "completed" {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if !got.Accepted || got.Forced {
		t.Fatalf("expected clean acceptance, got accepted=%v forced=%v", got.Accepted, got.Forced)
	}
	if got.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", got.Iterations)
	}
	if len(got.Bullets) != 4 || len(got.Grades) != 4 {
		t.Fatalf("expected 4 bullets and grades, got %d/%d", len(got.Bullets), len(got.Grades))
	}

	reqHist := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+created.OptimizationID+"/history", nil)
	addGuestHeader(reqHist)
	respHist := httptest.NewRecorder()
	app.Router.ServeHTTP(respHist, reqHist)

	if respHist.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respHist.Code)
	}

	var hist struct {
		OptimizationID string `json:"optimizationId"`
		History        []struct {
			Iteration int      `json:"iteration"`
			Bullets   []string `json:"bullets"`
		} `json:"history"`
	}
	if err := json.NewDecoder(respHist.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history response: %v", err)
	}
	if len(hist.History) != 1 || hist.History[0].Iteration != 1 {
		t.Fatalf("unexpected history: %+v", hist.History)
	}
}

func TestOptimizationsGetFailedRun(t *testing.T) {
	app := buildApp(t)

	resp := startOptimization(t, app.Router, `{"job":"Backend Engineer"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.Code)
	}

	var created struct {
		OptimizationID string `json:"optimizationId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	// The placeholder client fails every call, so processing marks the run failed.
	if err := app.OptimizationsService.ProcessOptimization(context.Background(), created.OptimizationID); err == nil {
		t.Fatal("expected process error")
	}

	reqGet := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/"+created.OptimizationID, nil)
	addGuestHeader(reqGet)
	respGet := httptest.NewRecorder()
	app.Router.ServeHTTP(respGet, reqGet)

	if respGet.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respGet.Code)
	}

	var got struct {
		Status    string `json:"status"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.NewDecoder(respGet.Body).Decode(&got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Status != "failed" {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorCode == "" {
		t.Fatal("expected errorCode on failed run")
	}
}

func TestOptimizationsCreateValidation(t *testing.T) {
	app := buildApp(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty job", `{"job":"  "}`},
		{"negative counts", `{"job":"x","bulletCount":-1}`},
		{"oversized bulletCount", `{"job":"x","bulletCount":50}`},
		{"invalid json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := startOptimization(t, app.Router, tc.body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", resp.Code, resp.Body.String())
			}
		})
	}
}

func TestOptimizationsCreateUnknownDocument(t *testing.T) {
	app := buildApp(t)

	resp := startOptimization(t, app.Router, `{"job":"Backend Engineer","documentId":"missing"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOptimizationsListRequiresLogin(t *testing.T) {
	app := buildApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestOptimizationsGetUnknownID(t *testing.T) {
	app := buildApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/does-not-exist", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func addGuestHeader(req *http.Request) {
	req.Header.Set("X-Guest-Id", "test-guest")
}
