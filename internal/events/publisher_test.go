package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
)

// MockStreamClient is a mock for the Redis stream client
type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func completedResult() *models.ScrapeResult {
	r := models.NewScrapeResult("walmart", "94102", "laptop")
	r.Add(models.NewProductRecord("Laptop", "https://www.walmart.com/ip/1", "walmart", "94102", time.Now()))
	r.Complete(nil)
	return r
}

func TestPublisherWrite(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	pub := NewPublisher(client, "", zap.NewNop())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	result := completedResult()

	client.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		values := args.Values.(map[string]interface{})
		if args.Stream != DefaultStream || !args.Approx || args.MaxLen != 10000 {
			return false
		}
		if values["event_type"] != "SCRAPE_COMPLETED" || values["site"] != "walmart" ||
			values["zipcode"] != "94102" || values["products_found"] != 1 || values["success"] != true {
			return false
		}

		var payload ScrapeCompletedPayload
		if err := json.Unmarshal([]byte(values["payload"].(string)), &payload); err != nil {
			return false
		}
		return payload.RunID == result.ID &&
			payload.EventID == values["event_id"] &&
			payload.Timestamp.Equal(fixed) &&
			len(payload.Products) == 1 &&
			payload.Source == "retail-scraper"
	})).Return(nil)

	require.NoError(t, pub.Write(ctx, result))
	client.AssertExpectations(t)
}

func TestPublisherWriteFailedRun(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	pub := NewPublisher(client, "custom:stream", nil)

	result := models.NewScrapeResult("target", "10001", "tv")
	result.Complete(errors.New("failed to set location"))

	client.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		values := args.Values.(map[string]interface{})
		var payload ScrapeCompletedPayload
		require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &payload))
		return args.Stream == "custom:stream" &&
			values["success"] == false &&
			payload.Error == "failed to set location" &&
			len(payload.Products) == 0
	})).Return(nil)

	require.NoError(t, pub.Write(ctx, result))
	client.AssertExpectations(t)
}

func TestPublisherWriteRedisError(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	pub := NewPublisher(client, "", zap.NewNop())

	client.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))

	err := pub.Write(ctx, completedResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish to redis")
	client.AssertExpectations(t)
}
