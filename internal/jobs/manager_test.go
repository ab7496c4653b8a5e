package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
	"github.com/maltedev/retail-scraper/internal/queue"
	"github.com/maltedev/retail-scraper/internal/scraper"
	"github.com/maltedev/retail-scraper/internal/storage"
)

// stubScraper finds one product per query unless the zipcode is "00000".
type stubScraper struct {
	site    string
	zipcode string
}

func (s *stubScraper) Site() string    { return s.site }
func (s *stubScraper) Zipcode() string { return s.zipcode }

func (s *stubScraper) SetLocation(_ context.Context, zipcode string) (bool, error) {
	if zipcode == "00000" {
		return false, nil
	}
	s.zipcode = zipcode
	return true, nil
}

func (s *stubScraper) SearchProducts(context.Context, string, int) ([]string, error) {
	return []string{"https://shop.example.com/p/1"}, nil
}

func (s *stubScraper) GetProductDetails(_ context.Context, url string) (*models.ProductRecord, error) {
	return models.NewProductRecord("Widget", url, s.site, s.zipcode, time.Now()), nil
}

func (s *stubScraper) ParseProduct(string, string) *models.ProductRecord { return nil }

func stubBuild(_ context.Context, site string) (*scraper.Adapter, error) {
	if site == "broken" {
		return nil, errors.New("no such site")
	}
	return scraper.NewAdapter(&stubScraper{site: site}, nil, nil, zap.NewNop()), nil
}

type recordingSink struct {
	mu      sync.Mutex
	results []*models.ScrapeResult
	err     error
}

func (r *recordingSink) Write(_ context.Context, result *models.ScrapeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func newManager(t *testing.T, sink *recordingSink) (*Manager, *queue.InMemoryQueue) {
	t.Helper()
	q := queue.NewInMemoryQueue()
	var s storage.Sink
	if sink != nil {
		s = sink
	}
	return NewManager(q, stubBuild, s, zap.NewNop()), q
}

func TestCreateJobValidation(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		want string
	}{
		{"missing site", CreateRequest{Zipcode: "94102", Query: "tv"}, "site is required"},
		{"missing zipcode", CreateRequest{Site: "walmart", Query: "tv"}, "zipcode is required"},
		{"missing query", CreateRequest{Site: "walmart", Zipcode: "94102"}, "query is required"},
		{"negative max", CreateRequest{Site: "walmart", Zipcode: "94102", Query: "tv", MaxResults: -1}, "max_results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateJob(ctx, tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateAndGetJob(t *testing.T) {
	m, q := newManager(t, nil)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, CreateRequest{Site: "walmart", Zipcode: "94102", Query: "laptop", MaxResults: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 1, q.Size())

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 3, got.MaxResults)

	_, err = m.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCreateJobClosedQueue(t *testing.T) {
	m, q := newManager(t, nil)
	require.NoError(t, q.Close())

	_, err := m.CreateJob(context.Background(), CreateRequest{Site: "walmart", Zipcode: "94102", Query: "tv"})
	require.ErrorIs(t, err, queue.ErrQueueClosed)

	jobs, err := m.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusFailed, jobs[0].Status)
}

func TestListJobsNewestFirst(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()

	first, err := m.CreateJob(ctx, CreateRequest{Site: "walmart", Zipcode: "94102", Query: "a"})
	require.NoError(t, err)
	second, err := m.CreateJob(ctx, CreateRequest{Site: "target", Zipcode: "10001", Query: "b"})
	require.NoError(t, err)

	jobs, err := m.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestWorkersProcessJobs(t *testing.T) {
	sink := &recordingSink{}
	m, q := newManager(t, sink)
	ctx := context.Background()

	ok, err := m.CreateJob(ctx, CreateRequest{Site: "walmart", Zipcode: "94102", Query: "laptop"})
	require.NoError(t, err)
	noLocation, err := m.CreateJob(ctx, CreateRequest{Site: "walmart", Zipcode: "00000", Query: "laptop"})
	require.NoError(t, err)
	broken, err := m.CreateJob(ctx, CreateRequest{Site: "broken", Zipcode: "94102", Query: "laptop"})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() {
		m.StartWorkers(ctx, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after the queue drained")
	}

	got, err := m.GetJob(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.ProductsFound)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Widget", got.Result.Products[0].Name)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	got, err = m.GetJob(ctx, noLocation.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "failed to set location")

	got, err = m.GetJob(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "failed to build scraper")

	assert.Equal(t, 3, sink.count())

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 2, stats.FailedJobs)
	assert.Equal(t, 1, stats.TotalProducts)
	assert.InDelta(t, 33.33, stats.SuccessRate, 0.01)
}

func TestWorkersSinkFailureKeepsJob(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	m, q := newManager(t, sink)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, CreateRequest{Site: "walmart", Zipcode: "94102", Query: "laptop"})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	m.StartWorkers(ctx, 1)

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestWorkersStopOnCancel(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.StartWorkers(ctx, 3)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop on cancel")
	}
}
