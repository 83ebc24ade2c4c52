package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clipcraft/api/internal/client"
	"github.com/clipcraft/api/internal/handler"
	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/render"
	"github.com/clipcraft/api/internal/service"
	"github.com/clipcraft/api/internal/storage"
	"github.com/clipcraft/api/internal/store"
	"github.com/clipcraft/api/internal/template"
	ws "github.com/clipcraft/api/internal/websocket"
	"github.com/clipcraft/api/internal/worker"
)

// stubTranscoder writes the argument list as the output file. An output
// named in failOn makes the call fail.
type stubTranscoder struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (s *stubTranscoder) Run(_ context.Context, inv client.Invocation) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.failOn != "" && strings.HasSuffix(inv.Output, s.failOn) {
		return io.ErrUnexpectedEOF
	}
	return os.WriteFile(inv.Output, []byte(strings.Join(client.Args(inv), " ")), 0o644)
}

type testApp struct {
	app        *fiber.App
	dispatcher *worker.LocalDispatcher
	transcoder *stubTranscoder
	outputs    string
	temp       string
	media      string
}

// setupApp assembles the server the way cmd/server does, with the Redis
// job store on miniredis and a stub transcoder.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ta := &testApp{
		transcoder: &stubTranscoder{},
		outputs:    t.TempDir(),
		temp:       t.TempDir(),
		media:      t.TempDir(),
	}
	for _, name := range []string{"a.png", "b.png"} {
		img := imaging.New(320, 240, color.NRGBA{R: 20, G: 120, B: 200, A: 255})
		if err := imaging.Save(img, filepath.Join(ta.media, name)); err != nil {
			t.Fatal(err)
		}
	}

	jobs := store.NewRedisStore(rdb, time.Hour)
	templates := template.NewMemoryStore(template.Builtins()...)
	artifacts := storage.NewLocalFS(ta.outputs)

	comp, err := render.NewCompositor(render.FileBackend{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	fetcher := render.NewMediaFetcher(ta.media, 5*time.Second, 0)
	enc := render.Encoding{}

	hubCtx, stopHub := context.WithCancel(context.Background())
	t.Cleanup(stopHub)
	hub := ws.NewHub(nil)
	go hub.Run(hubCtx)

	w := worker.NewRenderWorker(worker.Deps{
		Jobs:      jobs,
		Segments:  render.NewSegmentRenderer(ta.transcoder, comp, fetcher, enc),
		Concat:    render.NewConcatenator(ta.transcoder, enc),
		Fetcher:   fetcher,
		Artifacts: artifacts,
		Notifier:  hub,
		TempRoot:  ta.temp,
	})

	renderCtx, cancel := context.WithCancel(context.Background())
	ta.dispatcher = worker.NewLocalDispatcher(renderCtx, w, nil)
	t.Cleanup(func() {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = ta.dispatcher.Wait(ctx)
		cancel()
	})

	svc := service.NewJobService(service.Deps{
		Jobs:       jobs,
		Templates:  templates,
		Artifacts:  artifacts,
		Dispatcher: ta.dispatcher,
		Validator:  service.NewValidator(validator.New()),
	})

	ta.app = handler.NewApp(handler.AppDeps{
		Jobs:      svc,
		Templates: templates,
		Hub:       hub,
		Checks:    map[string]handler.Check{"redis": func(ctx context.Context) bool { return rdb.Ping(ctx).Err() == nil }},
	})
	return ta
}

func (ta *testApp) request(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func parseJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("invalid JSON %q: %v", data, err)
	}
}

// waitTerminal polls the job until it leaves queued/processing.
func (ta *testApp) waitTerminal(t *testing.T, id string) model.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, data := ta.request(t, http.MethodGet, "/jobs/"+id, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, data)
		}
		var job model.Job
		parseJSON(t, data, &job)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return model.Job{}
}

// trySubmit posts body without failing the test, for use off the test
// goroutine.
func (ta *testApp) trySubmit(body string) (string, error) {
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.app.Test(req, -1)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result model.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted || result.JobID == "" {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return result.JobID, nil
}

// drain waits for every render task to return, including its cleanup.
func (ta *testApp) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ta.dispatcher.Wait(ctx); err != nil {
		t.Fatalf("render tasks did not finish: %v", err)
	}
}
