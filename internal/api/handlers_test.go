package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/batch"
	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/ocr"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/retry"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/memory"
	"github.com/feolivs/contabilidadepro-sub003/internal/pipeline"
)

func testServer(t *testing.T) (*httptest.Server, *batch.Orchestrator) {
	t.Helper()

	provider := &ocr.MockProvider{ProviderName: "vision-a"}
	cfg := pipeline.DefaultConfig()
	cfg.Retry = retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, Exponential: true}
	extractor := pipeline.New(cfg, classify.New(classify.DefaultConfig()), []ocr.Provider{provider})

	bcfg := batch.DefaultConfig()
	bcfg.MaxConcurrent = 2
	orch, err := batch.New(bcfg, extractor, memory.NewBlobStore(), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	t.Cleanup(orch.Release)

	h := NewHandler(context.Background(), orch, extractor, nil)
	srv := NewServer(0, h, nil)
	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return ts, orch
}

func uploadDocument(t *testing.T, ts *httptest.Server, name string, data []byte) EnqueueResponse {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	_, _ = fw.Write(data)
	_ = w.WriteField("container_id", "empresa-1")
	_ = w.WriteField("priority", "1")
	_ = w.Close()

	resp, err := http.Post(ts.URL+"/v1/documents", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/documents failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	var out EnqueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestSubmitAndGetJob(t *testing.T) {
	ts, _ := testServer(t)

	out := uploadDocument(t, ts, "nota.png", append([]byte("\x89PNG\r\n\x1a\n"), 1, 2, 3))
	if out.JobID == "" {
		t.Fatal("Expected a job id")
	}
	if out.Status != "waiting" {
		t.Errorf("Expected status waiting, got %s", out.Status)
	}

	resp, err := http.Get(ts.URL + "/v1/jobs/" + out.JobID)
	if err != nil {
		t.Fatalf("GET job failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var job struct {
		ID          string `json:"id"`
		FileName    string `json:"file_name"`
		ContainerID string `json:"container_id"`
		Priority    int    `json:"priority"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&job)
	if job.FileName != "nota.png" || job.ContainerID != "empresa-1" || job.Priority != 1 {
		t.Errorf("Job record mismatch: %+v", job)
	}
}

func TestSubmitWithoutFileRejected(t *testing.T) {
	ts, _ := testServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("container_id", "empresa-1")
	_ = w.Close()

	resp, err := http.Post(ts.URL+"/v1/documents", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without file, got %d", resp.StatusCode)
	}
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	ts, orch := testServer(t)

	uploadDocument(t, ts, "a.png", append([]byte("\x89PNG\r\n\x1a\n"), 'a'))
	uploadDocument(t, ts, "b.png", append([]byte("\x89PNG\r\n\x1a\n"), 'b'))

	resp, err := http.Post(ts.URL+"/v1/batch/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST batch/start failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from start, got %d", resp.StatusCode)
	}

	deadline := time.After(10 * time.Second)
	for orch.State() != batch.RunCompleted {
		select {
		case <-deadline:
			t.Fatalf("Batch never completed, state %s", orch.State())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	statsResp, err := http.Get(ts.URL + "/v1/batch/stats")
	if err != nil {
		t.Fatalf("GET stats failed: %v", err)
	}
	defer statsResp.Body.Close()

	var stats struct {
		State   string `json:"state"`
		Success int    `json:"success"`
	}
	_ = json.NewDecoder(statsResp.Body).Decode(&stats)
	if stats.State != "completed" || stats.Success != 2 {
		t.Errorf("Expected completed/2, got %s/%d", stats.State, stats.Success)
	}
}

func TestRetryUnknownJobIs404(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Post(ts.URL+"/v1/jobs/no-such-job/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestSetPriorityOverHTTP(t *testing.T) {
	ts, _ := testServer(t)

	out := uploadDocument(t, ts, "nota.png", append([]byte("\x89PNG\r\n\x1a\n"), 1))

	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/v1/jobs/"+out.JobID+"/priority",
		strings.NewReader(`{"priority": 7}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH priority failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var job struct {
		Priority int `json:"priority"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&job)
	if job.Priority != 7 {
		t.Errorf("Expected priority 7, got %d", job.Priority)
	}
}

func TestBreakersEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/v1/breakers")
	if err != nil {
		t.Fatalf("GET breakers failed: %v", err)
	}
	defer resp.Body.Close()

	var breakers []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&breakers)
	if len(breakers) != 1 || breakers[0].Name != "vision-a" || breakers[0].State != "closed" {
		t.Errorf("Unexpected breakers payload: %+v", breakers)
	}

	reset, err := http.Post(ts.URL+"/v1/breakers/vision-a/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset failed: %v", err)
	}
	reset.Body.Close()
	if reset.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from reset, got %d", reset.StatusCode)
	}

	missing, err := http.Post(ts.URL+"/v1/breakers/nope/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown breaker, got %d", missing.StatusCode)
	}
}

func TestForceOpenBreakerOverHTTP(t *testing.T) {
	ts, _ := testServer(t)

	opened, err := http.Post(ts.URL+"/v1/breakers/vision-a/open", "application/json", nil)
	if err != nil {
		t.Fatalf("POST open failed: %v", err)
	}
	defer opened.Body.Close()
	if opened.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from open, got %d", opened.StatusCode)
	}

	var body struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	_ = json.NewDecoder(opened.Body).Decode(&body)
	if body.Name != "vision-a" || body.State != "open" {
		t.Errorf("Expected vision-a open, got %+v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
