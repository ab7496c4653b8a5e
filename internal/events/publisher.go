package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeScrapeCompleted is published once per finished run, successful or not.
	EventTypeScrapeCompleted EventType = "SCRAPE_COMPLETED"

	DefaultStream = "scrape:results"
	source        = "retail-scraper"
)

// StreamClient is the part of *redis.Client the publisher uses.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// ScrapeCompletedPayload is the JSON document carried in the payload field.
type ScrapeCompletedPayload struct {
	EventID       string                  `json:"event_id"`
	EventType     string                  `json:"event_type"`
	Timestamp     time.Time               `json:"timestamp"`
	Source        string                  `json:"source"`
	RunID         string                  `json:"run_id"`
	Site          string                  `json:"site"`
	Zipcode       string                  `json:"zipcode"`
	Query         string                  `json:"query"`
	Success       bool                    `json:"success"`
	Error         string                  `json:"error,omitempty"`
	ProductsFound int                     `json:"products_found"`
	Products      []*models.ProductRecord `json:"products"`
}

// Publisher appends completed runs to a Redis stream.
type Publisher struct {
	client StreamClient
	stream string
	maxLen int64
	logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(client StreamClient, stream string, logger *zap.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: 10000,
		logger: logger.With(zap.String("component", "event_publisher")),
		now:    time.Now,
	}
}

func (p *Publisher) Write(ctx context.Context, result *models.ScrapeResult) error {
	payload := &ScrapeCompletedPayload{
		EventID:       uuid.New().String(),
		EventType:     string(EventTypeScrapeCompleted),
		Timestamp:     p.now().UTC(),
		Source:        source,
		RunID:         result.ID,
		Site:          result.Site,
		Zipcode:       result.Zipcode,
		Query:         result.Query,
		Success:       result.Success,
		Error:         result.Error,
		ProductsFound: result.ProductsFound,
		Products:      result.Products,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":       payload.EventID,
			"event_type":     payload.EventType,
			"timestamp":      fmt.Sprintf("%d", payload.Timestamp.UnixNano()),
			"site":           result.Site,
			"zipcode":        result.Zipcode,
			"products_found": result.ProductsFound,
			"success":        result.Success,
			"payload":        string(data),
		},
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Info("event published",
		zap.String("stream", p.stream),
		zap.String("stream_id", id),
		zap.String("event_id", payload.EventID),
		zap.String("site", result.Site),
		zap.String("zipcode", result.Zipcode),
		zap.Int("products_found", result.ProductsFound),
	)
	return nil
}
