package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vodforge/vodforge/internal/database"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/engine"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

// --- Mocks ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) StartProcessing(ctx context.Context, id string) (*database.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*database.Job)
	return job, args.Error(1)
}

func (m *mockLedger) UpdateProgress(ctx context.Context, id string, pct int) (bool, error) {
	args := m.Called(ctx, id, pct)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Complete(ctx context.Context, id string, result types.CompletionResult) (*database.Job, error) {
	args := m.Called(ctx, id, result)
	job, _ := args.Get(0).(*database.Job)
	return job, args.Error(1)
}

func (m *mockLedger) Fail(ctx context.Context, id string, message string) (*database.Job, error) {
	args := m.Called(ctx, id, message)
	job, _ := args.Get(0).(*database.Job)
	return job, args.Error(1)
}

type mockTranscoder struct {
	mock.Mock
	ratios []float64
}

func (m *mockTranscoder) Transcode(ctx context.Context, input []byte, contentType string, onProgress engine.ProgressFunc) (*types.ArtifactBundle, error) {
	for _, r := range m.ratios {
		onProgress(r)
	}
	args := m.Called(ctx, input, contentType)
	bundle, _ := args.Get(0).(*types.ArtifactBundle)
	return bundle, args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	args := m.Called(ctx, url)
	data, _ := args.Get(0).([]byte)
	return data, args.String(1), args.Error(2)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, objectPath, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	args := m.Called(ctx, objectPath)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockStore) URL(objectPath string) string {
	return "https://cdn.test/" + objectPath
}

func (m *mockStore) PathFromURL(rawURL string) (string, bool) {
	return "", false
}

var _ storage.ObjectStore = (*mockStore)(nil)

// --- Helpers ---

type fixture struct {
	ledger    *mockLedger
	engine    *mockTranscoder
	fetcher   *mockFetcher
	store     *mockStore
	processor *Processor
	job       *database.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  &mockLedger{},
		engine:  &mockTranscoder{},
		fetcher: &mockFetcher{},
		store:   &mockStore{},
		job: &database.Job{
			ID:               uuid.NewString(),
			OwnerID:          "owner-1",
			InputFileURL:     "https://uploads.test/owner-1/clip.mp4",
			InputContentType: "video/mp4",
			Status:           types.StatusProcessing,
		},
	}
	f.processor = NewProcessor(f.ledger, f.engine, f.fetcher, f.store, hclog.NewNullLogger())
	return f
}

func (f *fixture) assertAll(t *testing.T) {
	f.ledger.AssertExpectations(t)
	f.engine.AssertExpectations(t)
	f.fetcher.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

func testBundle() *types.ArtifactBundle {
	return &types.ArtifactBundle{
		Files: map[string][]byte{
			"master.m3u8":   []byte("#EXTM3U\n"),
			"720p.m3u8":     []byte("#EXTM3U\n#EXT-X-ENDLIST\n"),
			"720p_init.mp4": []byte("init"),
			"720p_000.m4s":  []byte("segment-0"),
		},
		MasterName:  "master.m3u8",
		VariantName: "720p.m3u8",
		Rendition: types.RenditionDescriptor{
			Resolution: "720p",
			Width:      1280,
			Height:     720,
			Bitrate:    2500000,
		},
	}
}

func artifactURL(job *database.Job, name string) string {
	return "https://cdn.test/" + storage.ArtifactPath(job.OwnerID, job.ID, name)
}

// --- Tests ---

func TestProcess_Success(t *testing.T) {
	f := newFixture(t)
	f.engine.ratios = []float64{0.1, 0.1, 0.5, 0.999, 1.0}
	bundle := testBundle()
	source := []byte("source-bytes")

	f.ledger.On("StartProcessing", mock.Anything, f.job.ID).Return(f.job, nil).Once()
	f.fetcher.On("Fetch", mock.Anything, f.job.InputFileURL).Return(source, "video/mp4", nil).Once()
	f.engine.On("Transcode", mock.Anything, source, "video/mp4").Return(bundle, nil).Once()

	// duplicates collapse and the 99 cap holds until completion
	for _, pct := range []int{10, 50, 99} {
		f.ledger.On("UpdateProgress", mock.Anything, f.job.ID, pct).Return(true, nil).Once()
	}

	for _, name := range bundle.Names() {
		f.store.On("Put", mock.Anything, storage.ArtifactPath("owner-1", f.job.ID, name), bundle.Files[name], storage.ContentTypeFor(name)).
			Return(artifactURL(f.job, name), nil).Once()
	}

	var recorded types.CompletionResult
	f.ledger.On("Complete", mock.Anything, f.job.ID, mock.AnythingOfType("types.CompletionResult")).
		Run(func(args mock.Arguments) { recorded = args.Get(2).(types.CompletionResult) }).
		Return(&database.Job{ID: f.job.ID, Status: types.StatusCompleted}, nil).Once()

	require.NoError(t, f.processor.Process(context.Background(), f.job.ID))
	f.assertAll(t)
	f.ledger.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)

	assert.Equal(t, artifactURL(f.job, "master.m3u8"), recorded.OutputURL)
	assert.Equal(t, bundle.TotalSize(), recorded.TotalSizeBytes)
	require.Len(t, recorded.Variants, 1)
	variant := recorded.Variants[0]
	assert.Equal(t, "720p", variant.Resolution)
	assert.Equal(t, 1280, variant.Width)
	assert.Equal(t, 2500000, variant.Bitrate)
	assert.Equal(t, artifactURL(f.job, "720p.m3u8"), variant.URL)
	assert.Equal(t, bundle.TotalSize()-bundle.Size("master.m3u8"), variant.SizeBytes)
}

func TestProcess_InvalidIDNeverTouchesLedger(t *testing.T) {
	f := newFixture(t)

	err := f.processor.Process(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, tcerrors.ErrInvalidInput)
	f.ledger.AssertNotCalled(t, "StartProcessing", mock.Anything, mock.Anything)
}

func TestProcess_ConflictDoesNotFail(t *testing.T) {
	f := newFixture(t)
	conflict := tcerrors.ConflictError("start_processing", errors.New("job is not pending")).WithJob(f.job.ID)
	f.ledger.On("StartProcessing", mock.Anything, f.job.ID).Return(nil, conflict).Once()

	err := f.processor.Process(context.Background(), f.job.ID)
	assert.ErrorIs(t, err, tcerrors.ErrLedgerConflict)
	f.assertAll(t)
	f.ledger.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	f.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestProcess_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.On("StartProcessing", mock.Anything, f.job.ID).Return(f.job, nil).Once()
	f.fetcher.On("Fetch", mock.Anything, f.job.InputFileURL).
		Return(nil, "", tcerrors.IOError("fetch_source", errors.New("GET /private/path: 404"))).Once()
	f.ledger.On("Fail", mock.Anything, f.job.ID, "source video could not be retrieved").
		Return(&database.Job{ID: f.job.ID, Status: types.StatusFailed}, nil).Once()

	err := f.processor.Process(context.Background(), f.job.ID)
	assert.ErrorIs(t, err, tcerrors.ErrIO)
	f.assertAll(t)
}

func TestProcess_EncodeFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.ratios = []float64{0.3}
	f.ledger.On("StartProcessing", mock.Anything, f.job.ID).Return(f.job, nil).Once()
	f.fetcher.On("Fetch", mock.Anything, f.job.InputFileURL).Return([]byte("x"), "", nil).Once()
	f.ledger.On("UpdateProgress", mock.Anything, f.job.ID, 30).Return(false, errors.New("database is locked")).Once()
	// empty fetched content type falls back to the job record
	f.engine.On("Transcode", mock.Anything, []byte("x"), "video/mp4").
		Return(nil, tcerrors.EncodeError("run_ffmpeg", errors.New("exit status 1"))).Once()
	f.ledger.On("Fail", mock.Anything, f.job.ID, "video could not be transcoded").Return(nil, nil).Once()

	err := f.processor.Process(context.Background(), f.job.ID)
	assert.ErrorIs(t, err, tcerrors.ErrEncodeFailed)
	f.assertAll(t)
	f.ledger.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_StorageFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	bundle := testBundle()
	f.ledger.On("StartProcessing", mock.Anything, f.job.ID).Return(f.job, nil).Once()
	f.fetcher.On("Fetch", mock.Anything, f.job.InputFileURL).Return([]byte("x"), "video/mp4", nil).Once()
	f.engine.On("Transcode", mock.Anything, []byte("x"), "video/mp4").Return(bundle, nil).Once()

	// names are uploaded in lexical order; the second upload fails
	names := bundle.Names()
	f.store.On("Put", mock.Anything, storage.ArtifactPath("owner-1", f.job.ID, names[0]), mock.Anything, mock.Anything).
		Return(artifactURL(f.job, names[0]), nil).Once()
	f.store.On("Put", mock.Anything, storage.ArtifactPath("owner-1", f.job.ID, names[1]), mock.Anything, mock.Anything).
		Return("", errors.New("bucket unavailable")).Once()
	f.ledger.On("Fail", mock.Anything, f.job.ID, "output could not be stored").Return(nil, nil).Once()

	err := f.processor.Process(context.Background(), f.job.ID)
	assert.ErrorIs(t, err, tcerrors.ErrIO)
	assert.Equal(t, names[1], tcerrors.GetDetails(err)["artifact"])
	f.assertAll(t)
	f.ledger.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_FailSurvivesCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.ledger.On("StartProcessing", mock.Anything, f.job.ID).Return(f.job, nil).Once()
	f.fetcher.On("Fetch", mock.Anything, f.job.InputFileURL).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, "", context.Canceled).Once()
	f.ledger.On("Fail", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), f.job.ID, "internal error during transcoding").
		Return(nil, nil).Once()

	err := f.processor.Process(ctx, f.job.ID)
	assert.ErrorIs(t, err, context.Canceled)
	f.assertAll(t)
}
