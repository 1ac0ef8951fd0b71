// Command dlq-replay возвращает события каталога из dead-letter topic в основной topic.
// По умолчанию работает в режиме dry-run и только перечисляет кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "CATALOG_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// offsetSource отдаёт партиции и границы offset'ов topic'а.
type offsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	open(topic string, partition int32, offset int64) (partitionStream, error)
}

type replayer interface {
	Replay(topic, sourceTopic string, event *kafka.CatalogEvent) error
}

type saramaOpener struct {
	consumer sarama.Consumer
}

func (o saramaOpener) open(topic string, partition int32, offset int64) (partitionStream, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)

	var (
		brokers string
		cfg     config
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetter, "dead-letter topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicCatalogEvents, "topic to replay catalog events into")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max messages to scan across all partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish events; without it only candidates are listed")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.sourceTopic) == "" || strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("source-topic and target-topic are required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	var publisher replayer
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer
	}

	_, err = replay(ctx, cfg, client, saramaOpener{consumer: consumer}, publisher)
	return err
}

// replay читает каждую партицию от начала до high watermark на момент старта.
func replay(ctx context.Context, cfg config, offsets offsetSource, opener partitionOpener, publisher replayer) (summary, error) {
	if cfg.execute && publisher == nil {
		return summary{}, errors.New("publisher is required in execute mode")
	}

	logger := log.WithFields(log.Fields{
		"component":    "dlq-replay",
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"execute":      cfg.execute,
	})

	partitions, err := offsets.Partitions(cfg.sourceTopic)
	if err != nil {
		return summary{}, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	var total summary
	for _, partition := range partitions {
		if total.scanned >= cfg.limit {
			break
		}
		got, err := replayPartition(ctx, cfg, offsets, opener, publisher, partition, cfg.limit-total.scanned, logger)
		total.scanned += got.scanned
		total.replayed += got.replayed
		total.skipped += got.skipped
		if err != nil {
			return total, err
		}
	}

	logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func replayPartition(
	ctx context.Context,
	cfg config,
	offsets offsetSource,
	opener partitionOpener,
	publisher replayer,
	partition int32,
	limit int,
	logger *log.Entry,
) (summary, error) {
	var got summary

	oldest, err := offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return got, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return got, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return got, nil
	}

	stream, err := opener.open(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return got, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for got.scanned < limit {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-idle.C:
			return got, nil
		case consumeErr := <-stream.Errors():
			if consumeErr != nil {
				return got, fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return got, nil
			}
			idle.Reset(cfg.idleTimeout)
			got.scanned++

			entry := logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			event, dead, err := kafka.ParseDeadLetter(msg.Value)
			if err != nil {
				got.skipped++
				entry.WithError(err).Warn("skip unsupported dead letter")
			} else if cfg.execute {
				if err := publisher.Replay(cfg.targetTopic, cfg.sourceTopic, event); err != nil {
					return got, fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, partition, err)
				}
				got.replayed++
			} else {
				got.replayed++
				entry.WithFields(log.Fields{
					"event_type":    event.EventType,
					"aggregate_id":  event.AggregateID,
					"publish_error": dead.PublishError,
				}).Info("replay candidate")
			}

			if msg.Offset+1 >= newest {
				return got, nil
			}
		}
	}
	return got, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
