//go:build integration

package changefeed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"

	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/store"
	"example.com/fitstate/internal/syncq"
)

func TestKafkaChangeReachesOtherDevice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := "fitstate.changes"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))

	tablet := store.New("tablet")
	reader := NewKafkaReader(brokers, topic, "fitstate-tablet")
	defer reader.Close()
	proc := NewProcessor(reader, NewPatchHandler(tablet, "tablet", "user-1", zaptest.NewLogger(t)))

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() { _ = proc.Run(consumerCtx) }()

	producer := NewKafkaProducer(brokers)
	defer producer.Close()
	publisher := NewPublisher(producer, FixedSchema(1), topic, "user-1")

	entries := []syncq.Entry{
		{MutationID: "phone-1", Kind: domain.KindGamification, EntityID: domain.SingletonID, Field: "total_xp",
			Value: json.RawMessage(`500`), Lamport: 4, DeviceID: "phone"},
		{MutationID: "tablet-1", Kind: domain.KindGamification, EntityID: domain.SingletonID, Field: "total_xp",
			Value: json.RawMessage(`900`), Lamport: 9, DeviceID: "tablet"},
	}
	for _, e := range entries {
		require.NoError(t, publisher.Publish(ctx, e))
	}

	require.Eventually(t, func() bool {
		return tablet.State().Gamification.TotalXP == 500
	}, 60*time.Second, 250*time.Millisecond)

	// The tablet's own echo is skipped, so the phone's value stays.
	time.Sleep(2 * time.Second)
	require.Equal(t, int64(500), tablet.State().Gamification.TotalXP)
}
