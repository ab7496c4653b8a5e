// Package jobs runs scrape requests submitted over the API in the background.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
	"github.com/maltedev/retail-scraper/internal/queue"
	"github.com/maltedev/retail-scraper/internal/scraper"
	"github.com/maltedev/retail-scraper/internal/storage"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	listLimit = 100
)

var ErrJobNotFound = errors.New("job not found")

// Job represents a scraping job
type Job struct {
	ID            string               `json:"id"`
	Site          string               `json:"site"`
	Zipcode       string               `json:"zipcode"`
	Query         string               `json:"query"`
	MaxResults    int                  `json:"max_results"`
	Status        string               `json:"status"`
	ProductsFound int                  `json:"products_found"`
	CreatedAt     time.Time            `json:"created_at"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	Error         string               `json:"error,omitempty"`
	Result        *models.ScrapeResult `json:"result,omitempty"`
}

// CreateRequest is the input of CreateJob.
type CreateRequest struct {
	Site       string `json:"site"`
	Zipcode    string `json:"zipcode"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Priority   int    `json:"priority"`
}

func (r CreateRequest) Validate() error {
	switch {
	case r.Site == "":
		return fmt.Errorf("site is required")
	case r.Zipcode == "":
		return fmt.Errorf("zipcode is required")
	case r.Query == "":
		return fmt.Errorf("query is required")
	case r.MaxResults < 0:
		return fmt.Errorf("max_results must not be negative")
	}
	return nil
}

// Stats represents scraper statistics
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalProducts int     `json:"total_products"`
	SuccessRate   float64 `json:"success_rate"`
}

type Manager struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string

	queue  queue.Queue
	build  scraper.BuildFunc
	sink   storage.Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewManager wires the manager to its queue. sink may be nil.
func NewManager(q queue.Queue, build scraper.BuildFunc, sink storage.Sink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		queue:  q,
		build:  build,
		sink:   sink,
		logger: logger.With(zap.String("component", "job_manager")),
		now:    time.Now,
	}
}

// CreateJob records a pending job and queues it for the workers.
func (m *Manager) CreateJob(_ context.Context, req CreateRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := &Job{
		ID:         uuid.New().String(),
		Site:       req.Site,
		Zipcode:    req.Zipcode,
		Query:      req.Query,
		MaxResults: req.MaxResults,
		Status:     StatusPending,
		CreatedAt:  m.now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:         job.ID,
		Site:       job.Site,
		Zipcode:    job.Zipcode,
		Query:      job.Query,
		MaxResults: job.MaxResults,
		Priority:   req.Priority,
		CreatedAt:  job.CreatedAt,
	})
	if err != nil {
		m.update(job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created",
		zap.String("id", job.ID),
		zap.String("site", job.Site),
		zap.String("zipcode", job.Zipcode),
		zap.String("query", job.Query),
	)
	return m.GetJob(context.Background(), job.ID)
}

// GetJob returns a snapshot of the job.
func (m *Manager) GetJob(_ context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

// ListJobs returns up to 100 jobs, newest first, without their results.
func (m *Manager) ListJobs(_ context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, min(len(m.order), listLimit))
	for _, id := range slices.Backward(m.order) {
		if len(jobs) == listLimit {
			break
		}
		snapshot := *m.jobs[id]
		snapshot.Result = nil
		jobs = append(jobs, &snapshot)
	}
	return jobs, nil
}

func (m *Manager) GetStats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		stats.TotalProducts += job.ProductsFound
	}

	// Calculate success rate
	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats, nil
}

func (m *Manager) update(jobID string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}
