package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/forPelevin/hlreel/internal/types"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]types.Job
}

func newMemStore(jobs ...types.Job) *memStore {
	s := &memStore{jobs: map[string]types.Job{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) CreateJob(_ context.Context, j types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.UpdatedAt = j.CreatedAt
	s.jobs[j.ID] = j
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return types.Job{}, types.ErrJobNotFound
	}
	return j, nil
}

func (s *memStore) ListJobs(_ context.Context, limit int) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Job
	for _, j := range s.jobs {
		if len(out) == limit {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *memStore) update(id string, f func(*types.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return types.ErrJobNotFound
	}
	f(&j)
	j.UpdatedAt = j.UpdatedAt.Add(time.Second)
	s.jobs[id] = j
	return nil
}

func (s *memStore) SetStatus(_ context.Context, id string, st types.Status) error {
	return s.update(id, func(j *types.Job) { j.Status = st })
}

func (s *memStore) SetProgress(_ context.Context, id string, p types.Progress) error {
	return s.update(id, func(j *types.Job) { j.Progress = p })
}

func (s *memStore) SaveResult(_ context.Context, id string, res types.Result) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if ok && j.Status.Terminal() {
		return types.ErrJobFinished
	}
	return s.update(id, func(j *types.Job) { j.Status = res.Status; j.Result = &res })
}

func (s *memStore) MarkInterrupted(context.Context) (int, error) { return 0, nil }

func (s *memStore) DeleteFinishedBefore(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	submitted []string
	cancelled []string
	submitErr error
	withdraw  bool
}

func (d *fakeDispatcher) Submit(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return d.submitErr
	}
	d.submitted = append(d.submitted, id)
	return nil
}

func (d *fakeDispatcher) Cancel(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, id)
	return d.withdraw, nil
}

// finishingDispatcher completes the job while the cancel is in flight and
// then claims to have withdrawn it.
type finishingDispatcher struct {
	store *memStore
}

func (d *finishingDispatcher) Submit(context.Context, string) error { return nil }

func (d *finishingDispatcher) Cancel(ctx context.Context, id string) (bool, error) {
	res := types.Result{JobID: id, Status: types.StatusSucceeded, ArtifactURL: "file:///out/" + id + "/highlight.mp4"}
	if err := d.store.SaveResult(ctx, id, res); err != nil {
		return false, err
	}
	return true, nil
}

func testConfig(store *memStore, d *fakeDispatcher) ServerConfig {
	return ServerConfig{
		Store:        store,
		Jobs:         d,
		PollInterval: 10 * time.Millisecond,
		Logger:       zerolog.Nop(),
		StartTime:    time.Now(),
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rr := do(t, NewRouter(testConfig(newMemStore(), &fakeDispatcher{})), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestCreateJob(t *testing.T) {
	t.Parallel()

	store, d := newMemStore(), &fakeDispatcher{}
	h := NewRouter(testConfig(store, d))

	rr := do(t, h, http.MethodPost, "/v1/jobs", `{"media_id":"match.mp4","duration":30,"prompt":"every goal"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	acc := decode[JobAccepted](t, rr)
	if acc.Status != types.StatusQueued || acc.JobID == "" {
		t.Fatalf("response = %+v", acc)
	}
	if len(d.submitted) != 1 || d.submitted[0] != acc.JobID {
		t.Fatalf("submitted %v", d.submitted)
	}
	job, err := store.GetJob(context.Background(), acc.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.MediaID != "match.mp4" || job.Request.Prompt == nil {
		t.Fatalf("stored job = %+v", job)
	}
}

func TestCreateJob_RejectsBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"not json", `{`, http.StatusBadRequest, "invalid_request"},
		{"no media", `{"prompt":"goals"}`, http.StatusBadRequest, "invalid_request"},
		{"no target", `{"media_id":"a.mp4"}`, http.StatusUnprocessableEntity, "no_match_target"},
		{"both targets", `{"media_id":"a.mp4","prompt":"x","example":{"start_time":1,"end_time":2}}`, http.StatusUnprocessableEntity, "no_match_target"},
		{"empty example", `{"media_id":"a.mp4","example":{"start_time":5,"end_time":5}}`, http.StatusUnprocessableEntity, "no_match_target"},
		{"padding too large", `{"media_id":"a.mp4","prompt":"x","context_padding":11}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			rr := do(t, NewRouter(testConfig(newMemStore(), d)), http.MethodPost, "/v1/jobs", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.status, rr.Body)
			}
			if got := decode[ErrorResponse](t, rr); got.Code != tt.code {
				t.Fatalf("code = %q, want %q", got.Code, tt.code)
			}
			if len(d.submitted) != 0 {
				t.Fatal("rejected request was submitted")
			}
		})
	}
}

func TestCreateJob_SubmitFailureFailsJob(t *testing.T) {
	t.Parallel()

	store, d := newMemStore(), &fakeDispatcher{submitErr: errors.New("redis down")}
	rr := do(t, NewRouter(testConfig(store, d)), http.MethodPost, "/v1/jobs", `{"media_id":"a.mp4","prompt":"x"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	jobs, _ := store.ListJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].Status != types.StatusFailed || jobs[0].Result == nil {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestGetAndListJobs(t *testing.T) {
	t.Parallel()

	store := newMemStore(types.Job{ID: "a", Status: types.StatusRunning, Progress: types.Progress{Stage: "sampling", Percent: 40}})
	h := NewRouter(testConfig(store, &fakeDispatcher{}))

	rr := do(t, h, http.MethodGet, "/v1/jobs/a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	job := decode[types.Job](t, rr)
	if job.ID != "a" || job.Progress.Stage != "sampling" {
		t.Fatalf("job = %+v", job)
	}

	if rr := do(t, h, http.MethodGet, "/v1/jobs/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/jobs?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if got := decode[JobsResponse](t, rr); len(got.Jobs) != 1 {
		t.Fatalf("jobs = %+v", got.Jobs)
	}
	if rr := do(t, h, http.MethodGet, "/v1/jobs?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	t.Run("queued job is withdrawn", func(t *testing.T) {
		store := newMemStore(types.Job{ID: "a", Status: types.StatusQueued})
		d := &fakeDispatcher{withdraw: true}
		rr := do(t, NewRouter(testConfig(store, d)), http.MethodDelete, "/v1/jobs/a", "")
		if rr.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rr.Code)
		}
		if got := decode[JobAccepted](t, rr); got.Status != types.StatusCancelled {
			t.Fatalf("status = %q", got.Status)
		}
		job, _ := store.GetJob(context.Background(), "a")
		if job.Status != types.StatusCancelled || job.Result == nil || job.Result.Error.Code != "cancelled" {
			t.Fatalf("job = %+v", job)
		}
	})

	t.Run("running job is signalled", func(t *testing.T) {
		store := newMemStore(types.Job{ID: "a", Status: types.StatusRunning})
		d := &fakeDispatcher{}
		rr := do(t, NewRouter(testConfig(store, d)), http.MethodDelete, "/v1/jobs/a", "")
		if rr.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rr.Code)
		}
		if len(d.cancelled) != 1 {
			t.Fatalf("cancelled %v", d.cancelled)
		}
		job, _ := store.GetJob(context.Background(), "a")
		if job.Status != types.StatusRunning {
			t.Fatalf("status changed to %q before the worker stopped", job.Status)
		}
	})

	t.Run("job finishing during cancel keeps its result", func(t *testing.T) {
		store := newMemStore(types.Job{ID: "a", Status: types.StatusRunning})
		cfg := testConfig(store, &fakeDispatcher{})
		cfg.Jobs = &finishingDispatcher{store: store}
		rr := do(t, NewRouter(cfg), http.MethodDelete, "/v1/jobs/a", "")
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rr.Code)
		}
		job, _ := store.GetJob(context.Background(), "a")
		if job.Status != types.StatusSucceeded || job.Result == nil || job.Result.ArtifactURL == "" {
			t.Fatalf("finished result was overwritten: %+v", job)
		}
	})

	t.Run("finished job conflicts", func(t *testing.T) {
		store := newMemStore(types.Job{ID: "a", Status: types.StatusSucceeded})
		d := &fakeDispatcher{}
		rr := do(t, NewRouter(testConfig(store, d)), http.MethodDelete, "/v1/jobs/a", "")
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d", rr.Code)
		}
		if len(d.cancelled) != 0 {
			t.Fatal("dispatcher called for a finished job")
		}
	})
}

func TestAuth(t *testing.T) {
	t.Parallel()

	secret := []byte("test-secret")
	cfg := testConfig(newMemStore(types.Job{ID: "a", Status: types.StatusQueued}), &fakeDispatcher{})
	cfg.JWTSecret = secret
	h := NewRouter(cfg)

	token, err := IssueToken(secret, "ingest-service", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	other, err := IssueToken([]byte("other"), "ingest-service", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + token, "", http.StatusOK},
		{"query param", "", "?token=" + token, http.StatusOK},
		{"wrong secret", "Bearer " + other, "", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/a"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}

	if rr := do(t, h, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health behind auth: %d", rr.Code)
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cret")
	now := time.Now()

	tok, err := IssueToken(secret, "svc", time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := ParseToken(secret, tok)
	if err != nil || sub != "svc" {
		t.Fatalf("ParseToken = %q, %v", sub, err)
	}

	expired, err := IssueToken(secret, "svc", time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(secret, expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("err = %v, want expired", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "svc"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(secret, none); err == nil {
		t.Fatal("unsigned token accepted")
	}

	if _, err := IssueToken(nil, "svc", 0, now); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestJobEvents(t *testing.T) {
	t.Parallel()

	store := newMemStore(types.Job{ID: "a", Status: types.StatusRunning, Progress: types.Progress{Stage: "sampling", Percent: 30}})
	srv := httptest.NewServer(NewRouter(testConfig(store, &fakeDispatcher{})))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/jobs/a/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != "progress" || ev.Job.Progress.Percent != 30 {
		t.Fatalf("first event = %+v", ev)
	}

	if err := store.SaveResult(ctx, "a", types.Result{JobID: "a", Status: types.StatusSucceeded}); err != nil {
		t.Fatal(err)
	}
	for {
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Event == "done" {
			break
		}
	}
	if ev.Job.Status != types.StatusSucceeded || ev.Job.Result == nil {
		t.Fatalf("done event = %+v", ev)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("close err = %v", err)
	}
}

func TestJobEvents_UnknownJob(t *testing.T) {
	t.Parallel()

	rr := do(t, NewRouter(testConfig(newMemStore(), &fakeDispatcher{})), http.MethodGet, "/v1/jobs/nope/events", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
