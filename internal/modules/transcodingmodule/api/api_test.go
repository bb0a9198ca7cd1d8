package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vodforge/vodforge/internal/config"
	"github.com/vodforge/vodforge/internal/database"
	"github.com/vodforge/vodforge/internal/events"
	"github.com/vodforge/vodforge/internal/middleware"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/ledger"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/notify"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

var testSecret = []byte("api-test-secret")

type fakeInvoker struct {
	mu        sync.Mutex
	triggered []string
	err       error
}

func (f *fakeInvoker) Trigger(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, jobID)
	return nil
}

func (f *fakeInvoker) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggered...)
}

type fakeQueue struct{}

func (fakeQueue) Pending() int { return 2 }
func (fakeQueue) Active() int  { return 1 }

type noRuntime struct{}

func (noRuntime) Current() *ffmpeg.Runtime { return nil }

type testEnv struct {
	router  *gin.Engine
	ledger  *ledger.Ledger
	store   *storage.LocalStore
	invoker *fakeInvoker
	bus     *events.Bus
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.DatabaseFullConfig{Type: "sqlite", DatabasePath: ":memory:"}, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	bus := events.NewBus(hclog.NewNullLogger())
	t.Cleanup(bus.Stop)
	notifier := notify.NewLocalNotifier(bus, "ledger")

	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080/media", hclog.NewNullLogger())
	require.NoError(t, err)

	env := &testEnv{
		ledger:  ledger.New(db, notifier, hclog.NewNullLogger()),
		store:   store,
		invoker: &fakeInvoker{},
		bus:     bus,
	}

	jobs := NewJobHandler(env.ledger, store, env.invoker, notifier, Options{MaxUploadBytes: 1 << 20}, hclog.NewNullLogger())
	health := NewHealthHandler("test", noRuntime{}, fakeQueue{}, "")
	media := NewMediaHandler(store, hclog.NewNullLogger())

	env.router = gin.New()
	RegisterRoutes(env.router, middleware.Auth(middleware.AuthOptions{Enabled: true, Secret: testSecret}), jobs, health, media)
	return env
}

func token(t *testing.T, owner string) string {
	tok, err := middleware.IssueToken(testSecret, owner, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, req *http.Request, owner string) *httptest.ResponseRecorder {
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, owner))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedJob(t *testing.T, owner string) *database.Job {
	job := &database.Job{
		OwnerID:          owner,
		OriginalFilename: "clip.mp4",
		InputFileURL:     "http://localhost:8080/media/" + owner + "/x/source/clip.mp4",
		InputContentType: "video/mp4",
	}
	require.NoError(t, e.ledger.Create(context.Background(), job))
	return job
}

func uploadRequest(t *testing.T, filename string, data []byte, autostart bool) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if autostart {
		require.NoError(t, mw.WriteField("autostart", "true"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestCreateJob(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, uploadRequest(t, "holiday.mov", []byte("fake-video"), true), "owner-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Job       database.Job `json:"job"`
		Triggered bool         `json:"triggered"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Triggered)
	assert.Equal(t, types.StatusPending, resp.Job.Status)
	assert.Equal(t, "owner-1", resp.Job.OwnerID)
	assert.Equal(t, "holiday.mov", resp.Job.OriginalFilename)
	assert.Equal(t, "video/quicktime", resp.Job.InputContentType)
	assert.Equal(t, []string{resp.Job.ID}, env.invoker.ids())

	stored, err := env.ledger.Get(context.Background(), resp.Job.ID)
	require.NoError(t, err)
	objectPath, ok := env.store.PathFromURL(stored.InputFileURL)
	require.True(t, ok)
	assert.Equal(t, storage.SourcePath("owner-1", resp.Job.ID, "holiday.mov"), objectPath)

	data, err := env.store.Get(context.Background(), objectPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-video"), data)
}

func TestCreateJob_TriggerFailureKeepsJob(t *testing.T) {
	env := setupEnv(t)
	env.invoker.err = tcerrors.ErrQueueFull

	w := env.do(t, uploadRequest(t, "clip.mp4", []byte("x"), true), "owner-1")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	decode(t, w, &resp)
	assert.Equal(t, false, resp["triggered"])
	assert.NotEmpty(t, resp["trigger_error"])
}

func TestCreateJob_Rejects(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, uploadRequest(t, "", nil, false), "owner-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, uploadRequest(t, "empty.mp4", nil, false), "owner-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, uploadRequest(t, "clip.mp4", []byte("x"), false), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, uploadRequest(t, "big.mp4", bytes.Repeat([]byte("x"), 2<<20), false), "owner-1")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Empty(t, env.invoker.ids())
}

func TestGetJob_OwnerScoped(t *testing.T) {
	env := setupEnv(t)
	job := env.seedJob(t, "owner-1")

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil), "owner-1")
	require.Equal(t, http.StatusOK, w.Code)
	var got database.Job
	decode(t, w, &got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, types.StatusPending, got.Status)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil), "owner-2")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil), "owner-1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil), "owner-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs(t *testing.T) {
	env := setupEnv(t)
	env.seedJob(t, "owner-1")
	env.seedJob(t, "owner-1")
	env.seedJob(t, "owner-2")

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil), "owner-1")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Jobs  []database.Job `json:"jobs"`
		Count int            `json:"count"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Count)
	for _, j := range resp.Jobs {
		assert.Equal(t, "owner-1", j.OwnerID)
	}

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=1", nil), "owner-1")
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Count)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=abc", nil), "owner-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessJob(t *testing.T) {
	env := setupEnv(t)
	id := env.seedJob(t, "owner-1").ID

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/functions/process-job", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(t, req, "owner-1")
	}

	w := post(`{"jobId":"` + id + `"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{id}, env.invoker.ids())

	for _, body := range []string{`{}`, `{"jobId":"123"}`, `nonsense`} {
		w = post(body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	env.invoker.err = tcerrors.ErrQueueFull
	w = post(`{"jobId":"` + env.seedJob(t, "owner-1").ID + `"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestProcessJob_OwnerScoped(t *testing.T) {
	env := setupEnv(t)
	theirs := env.seedJob(t, "owner-2")

	for _, id := range []string{theirs.ID, uuid.NewString()} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/functions/process-job", strings.NewReader(`{"jobId":"`+id+`"}`))
		req.Header.Set("Content-Type", "application/json")
		w := env.do(t, req, "owner-1")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
	assert.Empty(t, env.invoker.ids())

	job, err := env.ledger.Get(context.Background(), theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, job.Status)
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil), "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string                 `json:"status"`
		Version string                 `json:"version"`
		Runtime map[string]interface{} `json:"runtime"`
		Queue   map[string]int         `json:"queue"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, false, resp.Runtime["loaded"])
	assert.Equal(t, map[string]int{"pending": 2, "active": 1}, resp.Queue)
}

func TestServeMedia(t *testing.T) {
	env := setupEnv(t)
	objectPath := storage.ArtifactPath("owner-1", "job-1", "720p.m3u8")
	_, err := env.store.Put(context.Background(), objectPath, []byte("#EXTM3U\n"), storage.ContentTypeFor(objectPath))
	require.NoError(t, err)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/media/"+objectPath, nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "#EXTM3U\n", w.Body.String())
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/media/owner-1/job-1/hls/missing.m4s", nil), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/media/owner-1/../../etc/passwd", nil), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeMedia_SourcesAreNotPublic(t *testing.T) {
	env := setupEnv(t)
	sourcePath := storage.SourcePath("owner-1", "job-1", "clip.mp4")
	_, err := env.store.Put(context.Background(), sourcePath, []byte("original upload"), "video/mp4")
	require.NoError(t, err)

	for _, target := range []string{
		"/media/" + sourcePath,
		"/media/owner-1/job-1/hls/../source/clip.mp4",
		"/media/owner-1/job-1",
	} {
		w := env.do(t, httptest.NewRequest(http.MethodGet, target, nil), "")
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.NotContains(t, w.Body.String(), "original upload")
	}
}

func TestWatchJob_StreamsUntilTerminal(t *testing.T) {
	env := setupEnv(t)
	job := env.seedJob(t, "owner-1")

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/jobs/" + job.ID + "/watch?access_token=" + token(t, "owner-1")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	read := func() notify.JobChange {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var change notify.JobChange
		require.NoError(t, conn.ReadJSON(&change))
		return change
	}

	first := read()
	assert.Equal(t, types.StatusPending, first.Status)
	assert.Equal(t, job.ID, first.JobID)

	ctx := context.Background()
	_, err = env.ledger.StartProcessing(ctx, job.ID)
	require.NoError(t, err)
	_, err = env.ledger.UpdateProgress(ctx, job.ID, 40)
	require.NoError(t, err)
	_, err = env.ledger.Complete(ctx, job.ID, types.CompletionResult{
		OutputURL:      "http://localhost:8080/media/owner-1/" + job.ID + "/hls/master.m3u8",
		Variants:       []types.RenditionDescriptor{{Resolution: "720p", Width: 1280, Height: 720}},
		TotalSizeBytes: 10,
	})
	require.NoError(t, err)

	started := read()
	assert.Equal(t, types.StatusProcessing, started.Status)
	assert.Equal(t, 0, started.Progress)

	progress := read()
	assert.Equal(t, 40, progress.Progress)

	done := read()
	assert.Equal(t, types.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.NotEmpty(t, done.OutputURL)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatchJob_TerminalJobClosesAfterSnapshot(t *testing.T) {
	env := setupEnv(t)
	job := env.seedJob(t, "owner-1")
	ctx := context.Background()
	_, err := env.ledger.StartProcessing(ctx, job.ID)
	require.NoError(t, err)
	_, err = env.ledger.Fail(ctx, job.ID, "video could not be transcoded")
	require.NoError(t, err)

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/jobs/" + job.ID + "/watch"
	header := http.Header{"Authorization": []string{"Bearer " + token(t, "owner-1")}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var change notify.JobChange
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, types.StatusFailed, change.Status)
	assert.Equal(t, "video could not be transcoded", change.ErrorMessage)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

// silentFeed accepts subscriptions and never delivers, like a watcher whose
// changes were all dropped
type silentFeed struct{}

func (silentFeed) Subscribe(ctx context.Context, _ string) (<-chan notify.JobChange, error) {
	ch := make(chan notify.JobChange)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestWatchJob_LostTerminalChangeStillCloses(t *testing.T) {
	env := setupEnv(t)
	job := env.seedJob(t, "owner-1")

	jobs := NewJobHandler(env.ledger, env.store, env.invoker, silentFeed{}, Options{}, hclog.NewNullLogger())
	jobs.pingPeriod = 50 * time.Millisecond
	router := gin.New()
	RegisterRoutes(router, middleware.Auth(middleware.AuthOptions{Enabled: true, Secret: testSecret}), jobs,
		NewHealthHandler("test", noRuntime{}, fakeQueue{}, ""), nil)

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/jobs/" + job.ID + "/watch?access_token=" + token(t, "owner-1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var change notify.JobChange
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, types.StatusPending, change.Status)

	ctx := context.Background()
	_, err = env.ledger.StartProcessing(ctx, job.ID)
	require.NoError(t, err)
	_, err = env.ledger.Fail(ctx, job.ID, "video could not be transcoded")
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, types.StatusFailed, change.Status)
	assert.Equal(t, "video could not be transcoded", change.ErrorMessage)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatchJob_OtherOwnerRejectedBeforeUpgrade(t *testing.T) {
	env := setupEnv(t)
	job := env.seedJob(t, "owner-1")

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/jobs/" + job.ID + "/watch?access_token=" + token(t, "owner-2")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
