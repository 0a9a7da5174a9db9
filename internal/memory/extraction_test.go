package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/model"
)

type fakePublisher struct {
	messages []kafka.Message
}

func (f *fakePublisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func TestBackgroundExtractorPublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	extractor := NewBackgroundExtractor(pub, "")

	extractor.Publish(context.Background(), "conv-1", []model.Message{{Content: "hi"}})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "background", pub.messages[0].Topic)
	assert.Equal(t, "conv-1", string(pub.messages[0].Key))

	var job extractionJob
	require.NoError(t, json.Unmarshal(pub.messages[0].Value, &job))
	assert.Equal(t, "conv-1", job.ConversationID)
	assert.Len(t, job.Messages, 1)
}

func TestBackgroundExtractorCustomTopic(t *testing.T) {
	pub := &fakePublisher{}
	extractor := NewBackgroundExtractor(pub, "custom-bg")

	extractor.Publish(context.Background(), "conv-2", []model.Message{{Content: "hi"}})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "custom-bg", pub.messages[0].Topic)
}
