package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type fakeOffsets struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
}

func (f fakeOffsets) Partitions(string) ([]int32, error) {
	return f.partitions, nil
}

func (f fakeOffsets) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	return f.newest[partition], nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	streams map[int32]*fakeStream
	offsets map[int32]int64
}

func (o *fakeOpener) open(_ string, partition int32, offset int64) (partitionStream, error) {
	stream, ok := o.streams[partition]
	if !ok {
		return nil, errors.New("unexpected partition")
	}
	if o.offsets == nil {
		o.offsets = map[int32]int64{}
	}
	o.offsets[partition] = offset
	return stream, nil
}

type fakeReplayer struct {
	events []*kafka.CatalogEvent
	err    error
}

func (r *fakeReplayer) Replay(_, _ string, event *kafka.CatalogEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func deadLetterMessage(t *testing.T, partition int32, offset int64, aggregateID string) *sarama.ConsumerMessage {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"outbox_id":      "evt-" + aggregateID,
		"aggregate_type": domain.AggregateProduct,
		"aggregate_id":   aggregateID,
		"event_type":     domain.EventProductUpdated,
		"payload":        json.RawMessage(`{"id":"` + aggregateID + `"}`),
		"publish_error":  "broker unavailable",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NewCatalogEvent(domain.OutboxMessage{
		ID:            "evt-" + aggregateID,
		AggregateType: domain.AggregateProduct,
		AggregateID:   aggregateID,
		EventType:     domain.EventProductUpdated,
		Payload:       payload,
	}))
	require.NoError(t, err)

	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetter, Partition: partition, Offset: offset, Value: value}
}

func newStream(msgs ...*sarama.ConsumerMessage) *fakeStream {
	stream := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range msgs {
		stream.messages <- msg
	}
	return stream
}

func testConfig(execute bool) config {
	return config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: kafka.TopicDeadLetter,
		targetTopic: kafka.TopicCatalogEvents,
		limit:       10,
		execute:     execute,
		idleTimeout: 200 * time.Millisecond,
	}
}

func TestReplay_ExecutePublishesParsedEvents(t *testing.T) {
	offsets := fakeOffsets{
		partitions: []int32{1, 0},
		oldest:     map[int32]int64{0: 5, 1: 0},
		newest:     map[int32]int64{0: 7, 1: 1},
	}
	opener := &fakeOpener{streams: map[int32]*fakeStream{
		0: newStream(
			deadLetterMessage(t, 0, 5, "p-1"),
			&sarama.ConsumerMessage{Partition: 0, Offset: 6, Value: []byte("garbage")},
		),
		1: newStream(deadLetterMessage(t, 1, 0, "p-2")),
	}}
	publisher := &fakeReplayer{}

	got, err := replay(context.Background(), testConfig(true), offsets, opener, publisher)
	require.NoError(t, err)
	require.Equal(t, summary{scanned: 3, replayed: 2, skipped: 1}, got)

	require.Len(t, publisher.events, 2)
	require.Equal(t, "p-1", publisher.events[0].AggregateID)
	require.JSONEq(t, `{"id":"p-1"}`, string(publisher.events[0].Payload))
	require.Equal(t, "p-2", publisher.events[1].Key())

	require.Equal(t, int64(5), opener.offsets[0])
	require.True(t, opener.streams[0].closed)
	require.True(t, opener.streams[1].closed)
}

func TestReplay_DryRunAndLimit(t *testing.T) {
	offsets := fakeOffsets{
		partitions: []int32{0, 1},
		oldest:     map[int32]int64{0: 0, 1: 0},
		newest:     map[int32]int64{0: 3, 1: 3},
	}
	opener := &fakeOpener{streams: map[int32]*fakeStream{
		0: newStream(
			deadLetterMessage(t, 0, 0, "p-1"),
			deadLetterMessage(t, 0, 1, "p-2"),
			deadLetterMessage(t, 0, 2, "p-3"),
		),
	}}

	cfg := testConfig(false)
	cfg.limit = 2

	got, err := replay(context.Background(), cfg, offsets, opener, nil)
	require.NoError(t, err)
	require.Equal(t, summary{scanned: 2, replayed: 2}, got)
	_, openedSecond := opener.offsets[1]
	require.False(t, openedSecond)
}

func TestReplay_EmptyPartitionAndIdleTimeout(t *testing.T) {
	offsets := fakeOffsets{
		partitions: []int32{0, 1},
		oldest:     map[int32]int64{0: 4, 1: 0},
		newest:     map[int32]int64{0: 4, 1: 5},
	}
	opener := &fakeOpener{streams: map[int32]*fakeStream{1: newStream()}}

	cfg := testConfig(false)
	cfg.idleTimeout = 20 * time.Millisecond

	got, err := replay(context.Background(), cfg, offsets, opener, nil)
	require.NoError(t, err)
	require.Zero(t, got.scanned)
	require.True(t, opener.streams[1].closed)
}

func TestReplay_Errors(t *testing.T) {
	_, err := replay(context.Background(), testConfig(true), fakeOffsets{}, &fakeOpener{}, nil)
	require.ErrorContains(t, err, "publisher is required")

	offsets := fakeOffsets{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: 1},
	}
	opener := &fakeOpener{streams: map[int32]*fakeStream{0: newStream(deadLetterMessage(t, 0, 0, "p-1"))}}
	_, err = replay(context.Background(), testConfig(true), offsets, opener, &fakeReplayer{err: errors.New("acks timeout")})
	require.ErrorContains(t, err, "acks timeout")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opener = &fakeOpener{streams: map[int32]*fakeStream{0: newStream()}}
	_, err = replay(ctx, testConfig(false), offsets, opener, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseConfig(t *testing.T) {
	env := map[string]string{envKafkaBrokers: "kafka-1:9092, kafka-2:9092"}
	getenv := func(key string) string { return env[key] }

	cfg, err := parseConfig([]string{"-execute", "-limit=5"}, getenv)
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetter, cfg.sourceTopic)
	require.Equal(t, kafka.TopicCatalogEvents, cfg.targetTopic)
	require.Equal(t, 5, cfg.limit)
	require.True(t, cfg.execute)

	cfg, err = parseConfig([]string{"-brokers=local:9092"}, getenv)
	require.NoError(t, err)
	require.Equal(t, []string{"local:9092"}, cfg.brokers)
	require.False(t, cfg.execute)

	empty := func(string) string { return "" }
	_, err = parseConfig(nil, empty)
	require.ErrorContains(t, err, "kafka brokers are required")

	_, err = parseConfig([]string{"-target-topic=" + kafka.TopicDeadLetter}, getenv)
	require.ErrorContains(t, err, "must differ")

	_, err = parseConfig([]string{"-limit=0"}, getenv)
	require.ErrorContains(t, err, "limit must be > 0")

	_, err = parseConfig([]string{"-idle-timeout=0s"}, getenv)
	require.ErrorContains(t, err, "idle-timeout")
}
