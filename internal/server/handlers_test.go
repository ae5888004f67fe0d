package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/offside-zero/internal/analysis"
	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/queue"
	"github.com/tjfontaine/offside-zero/internal/storage/memory"
)

type stubAnalyzer struct {
	verdict *domain.ClipVerdict
	err     error
	gotClip string
	gotOpts analysis.Options
}

func (a *stubAnalyzer) AnalyzeClip(_ context.Context, clip string, opts analysis.Options) (*domain.ClipVerdict, error) {
	a.gotClip = clip
	a.gotOpts = opts
	return a.verdict, a.err
}

func newTestServer(t *testing.T, processor queue.Processor, analyzer ClipAnalyzer, opts ...Option) (*httptest.Server, *queue.Queue) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(memory.New(), processor, queue.WithLogger(logger))
	srv := httptest.NewServer(New(logger, q, analyzer, opts...))
	t.Cleanup(srv.Close)
	return srv, q
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestServer_TaskLifecycle(t *testing.T) {
	processor := queue.ProcessorFunc(func(ctx context.Context, clip string) (*domain.ClipVerdict, error) {
		return &domain.ClipVerdict{
			Decision:        domain.DecisionOffside,
			Confidence:      0.8,
			Entities:        []domain.Entity{},
			AnnotatedFrames: []string{"a_swarm_0.jpg"},
		}, nil
	})
	srv, q := newTestServer(t, processor, &stubAnalyzer{})

	resp, err := http.Post(srv.URL+"/v1/tasks", "application/json", strings.NewReader(`{"clip":"a.mp4"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	submitted := decode[submitResponse](t, resp)
	if submitted.TaskID == "" || submitted.Status != domain.TaskPending {
		t.Fatalf("submit response = %+v", submitted)
	}

	// worker not started yet
	resp, err = http.Get(srv.URL + "/v1/tasks/" + submitted.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task := decode[domain.Task](t, resp); task.Status != domain.TaskPending {
		t.Errorf("status before worker = %s, want PENDING", task.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var task domain.Task
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(srv.URL + "/v1/tasks/" + submitted.TaskID)
		if err != nil {
			t.Fatal(err)
		}
		task = decode[domain.Task](t, resp)
		if task.Status.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if task.Status != domain.TaskCompleted {
		t.Fatalf("task status = %s, want COMPLETED", task.Status)
	}
	if task.Result == nil || task.Result.Decision != domain.DecisionOffside {
		t.Fatalf("task result = %+v", task.Result)
	}
	if got := task.Result.AnnotatedFrames; len(got) != 1 || got[0] != "/output/a_swarm_0.jpg" {
		t.Errorf("AnnotatedFrames = %v, want /output/ prefix", got)
	}

	resp, err = http.Get(srv.URL + "/v1/tasks?status=completed")
	if err != nil {
		t.Fatal(err)
	}
	if list := decode[listResponse](t, resp); len(list.Tasks) != 1 || list.Tasks[0].ID != submitted.TaskID {
		t.Errorf("list = %+v", list)
	}
}

func TestServer_SubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t, queue.ProcessorFunc(nil), &stubAnalyzer{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"clip":`},
		{"missing clip", `{}`},
		{"blank clip", `{"clip":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/tasks", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestServer_UnknownTask(t *testing.T) {
	srv, _ := newTestServer(t, queue.ProcessorFunc(nil), &stubAnalyzer{})

	resp, err := http.Get(srv.URL + "/v1/tasks/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if body := decode[errorResponse](t, resp); body.Error == "" {
		t.Error("expected error message")
	}
}

func TestServer_ListValidation(t *testing.T) {
	srv, _ := newTestServer(t, queue.ProcessorFunc(nil), &stubAnalyzer{})

	for _, query := range []string{"?status=bogus", "?limit=-1", "?limit=x"} {
		resp, err := http.Get(srv.URL + "/v1/tasks" + query)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /v1/tasks%s status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestServer_Analyze(t *testing.T) {
	tests := []struct {
		name       string
		verdict    *domain.ClipVerdict
		err        error
		wantStatus int
	}{
		{
			name:       "verdict",
			verdict:    &domain.ClipVerdict{Decision: domain.DecisionOnside, AnnotatedFrames: []string{"x_swarm_0.jpg"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "no frames analyzed is still a verdict",
			verdict:    domain.UnclearVerdict("No frames analyzed"),
			err:        domain.ErrNoFramesAnalyzed,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing clip",
			err:        domain.ErrClipNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "no frames",
			err:        domain.ErrNoFrames,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "inference error",
			err:        domain.NewInferenceError(domain.ErrorTypeRateLimit, "quota"),
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "unexpected",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &stubAnalyzer{verdict: tt.verdict, err: tt.err}
			srv, _ := newTestServer(t, queue.ProcessorFunc(nil), analyzer)

			resp, err := http.Post(srv.URL+"/v1/analyze", "application/json", strings.NewReader(`{"clip":"x.mp4","timestamp":2.5}`))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if analyzer.gotClip != "x.mp4" || analyzer.gotOpts.Timestamp == nil || *analyzer.gotOpts.Timestamp != 2.5 {
				t.Errorf("analyzer got clip %q opts %+v", analyzer.gotClip, analyzer.gotOpts)
			}
			if tt.wantStatus == http.StatusOK {
				v := decode[domain.ClipVerdict](t, resp)
				if v.Decision != tt.verdict.Decision {
					t.Errorf("decision = %s, want %s", v.Decision, tt.verdict.Decision)
				}
				for _, f := range v.AnnotatedFrames {
					if !strings.HasPrefix(f, "/output/") {
						t.Errorf("annotated frame %q lacks /output/ prefix", f)
					}
				}
			}
		})
	}
}

func TestServer_HealthAndOutput(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a_swarm_0.jpg"), []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	srv, q := newTestServer(t, queue.ProcessorFunc(nil), &stubAnalyzer{}, WithOutputDir(dir))
	if _, err := q.Submit(context.Background(), "a.mp4"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" || health["queue_depth"] != float64(1) {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(srv.URL + "/output/a_swarm_0.jpg")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "jpeg" {
		t.Errorf("GET /output/a_swarm_0.jpg = %d %q", resp.StatusCode, body)
	}
}

func TestServer_AnalyzeCarriesRequestID(t *testing.T) {
	analyzer := &stubAnalyzer{verdict: &domain.ClipVerdict{Decision: domain.DecisionOnside}}
	srv, _ := newTestServer(t, queue.ProcessorFunc(nil), analyzer)

	const id = "5b0b2e5e-8f0a-4a43-9d7e-0c1c6f1f2a10"
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/analyze", strings.NewReader(`{"clip":"x.mp4"}`))
	req.Header.Set("X-Request-ID", id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != id {
		t.Errorf("X-Request-ID = %q, want %q", got, id)
	}
	if analyzer.gotOpts.RequestID != id {
		t.Errorf("analysis RequestID = %q, want %q", analyzer.gotOpts.RequestID, id)
	}
}

type stubFollowUp struct {
	answer     string
	err        error
	gotMessage string
	gotVerdict *domain.ClipVerdict
}

func (f *stubFollowUp) Ask(_ context.Context, message string, verdict *domain.ClipVerdict) (string, error) {
	f.gotMessage = message
	f.gotVerdict = verdict
	return f.answer, f.err
}

func waitForStatus(t *testing.T, q *queue.Queue, id string, want domain.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := q.Status(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if task.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", id, want)
}

func TestServer_Chat(t *testing.T) {
	processor := queue.ProcessorFunc(func(ctx context.Context, clip string) (*domain.ClipVerdict, error) {
		return &domain.ClipVerdict{Decision: domain.DecisionHandball, Confidence: 0.7}, nil
	})

	t.Run("answers about a finished task", func(t *testing.T) {
		followUp := &stubFollowUp{answer: "Law 12 applies."}
		srv, q := newTestServer(t, processor, &stubAnalyzer{}, WithFollowUp(followUp))
		task, err := q.Submit(context.Background(), "a.mp4")
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go q.Run(ctx)
		waitForStatus(t, q, task.ID, domain.TaskCompleted)

		resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
			strings.NewReader(`{"message":"Was it deliberate?","task_id":"`+task.ID+`"}`))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got := decode[chatResponse](t, resp); got.Response != "Law 12 applies." {
			t.Errorf("response = %q", got.Response)
		}
		if followUp.gotMessage != "Was it deliberate?" || followUp.gotVerdict == nil || followUp.gotVerdict.Decision != domain.DecisionHandball {
			t.Errorf("follow-up got %q %+v", followUp.gotMessage, followUp.gotVerdict)
		}
	})

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"inline context", `{"message":"why?","context":{"decision":"OFFSIDE","confidence":0.9}}`, nil, http.StatusOK},
		{"missing message", `{"context":{"decision":"OFFSIDE"}}`, nil, http.StatusBadRequest},
		{"no analysis named", `{"message":"why?"}`, nil, http.StatusBadRequest},
		{"unknown task", `{"message":"why?","task_id":"nope"}`, nil, http.StatusNotFound},
		{"models exhausted", `{"message":"why?","context":{"decision":"OFFSIDE"}}`,
			&domain.FallbackError{Model: "m", Attempts: 2, Err: domain.NewInferenceError(domain.ErrorTypeRateLimit, "quota")},
			http.StatusTooManyRequests},
		{"no advisor", `{"message":"why?","context":{"decision":"OFFSIDE"}}`, analysis.ErrNoAdvisor, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, processor, &stubAnalyzer{}, WithFollowUp(&stubFollowUp{answer: "ok", err: tt.err}))
			resp, err := http.Post(srv.URL+"/v1/chat", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}

	t.Run("task without verdict", func(t *testing.T) {
		srv, q := newTestServer(t, processor, &stubAnalyzer{}, WithFollowUp(&stubFollowUp{answer: "ok"}))
		task, err := q.Submit(context.Background(), "a.mp4")
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
			strings.NewReader(`{"message":"why?","task_id":"`+task.ID+`"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})
}

func TestServer_ChatDisabled(t *testing.T) {
	srv, _ := newTestServer(t, queue.ProcessorFunc(nil), &stubAnalyzer{})
	resp, err := http.Post(srv.URL+"/v1/chat", "application/json", strings.NewReader(`{"message":"why?"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

var _ TaskQueue = (*queue.Queue)(nil)
var _ FollowUp = (*analysis.Service)(nil)
