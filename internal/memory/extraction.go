package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"cognitivecore/internal/model"
	"cognitivecore/internal/telemetry"
)

// extractionJob is the envelope published to the background topic,
// mirroring the orchestrator's CommandEnvelope/ResponseEnvelope shape:
// a correlation id for logs plus the payload fact extraction needs.
type extractionJob struct {
	CorrelationID  string          `json:"correlation_id"`
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// JobPublisher abstracts the Kafka writer used to publish fact-extraction
// jobs to a topic.
type JobPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// BackgroundExtractor publishes fact-extraction jobs instead of running
// them inline; RunExtractionWorker consumes and runs them. Neither side
// acquires a Slot Manager slot.
type BackgroundExtractor struct {
	producer JobPublisher
	topic    string
}

// NewBackgroundExtractor builds a publisher targeting topic (default
// "background" when empty).
func NewBackgroundExtractor(producer JobPublisher, topic string) *BackgroundExtractor {
	if topic == "" {
		topic = "background"
	}
	return &BackgroundExtractor{producer: producer, topic: topic}
}

// Publish enqueues a fact-extraction job for convID over window. Publish
// failures are logged, not returned, since fact extraction is always
// best-effort.
func (e *BackgroundExtractor) Publish(ctx context.Context, convID string, window []model.Message) {
	job := extractionJob{ConversationID: convID, Messages: window}
	payload, err := json.Marshal(job)
	if err != nil {
		telemetry.LoggerWithTrace(ctx).Warn().Err(err).Msg("memory: marshal extraction job failed")
		return
	}
	if err := e.producer.WriteMessages(ctx, kafka.Message{
		Topic: e.topic,
		Key:   []byte(convID),
		Value: payload,
	}); err != nil {
		telemetry.LoggerWithTrace(ctx).Warn().Err(err).Str("conversation_id", convID).Msg("memory: publish extraction job failed")
	}
}

// RunExtractionWorker consumes fact-extraction jobs from the background
// topic and feeds them to store. It runs until ctx is cancelled or the
// reader returns a fatal error; transient fetch errors are logged and
// retried after a short backoff, matching the teacher's kafka consumer
// loop style.
func RunExtractionWorker(ctx context.Context, brokers []string, groupID, topic string, store *Store) error {
	if topic == "" {
		topic = "background"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	log := telemetry.LoggerWithTrace(ctx)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("memory: extraction worker fetch failed")
			select {
			case <-time.After(500 * time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var job extractionJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Warn().Err(err).Msg("memory: malformed extraction job, dropping")
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		store.ExtractFactsAsync(ctx, job.ConversationID, job.Messages)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("memory: extraction worker commit failed")
		}
	}
}
