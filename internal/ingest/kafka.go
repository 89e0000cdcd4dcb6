package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/txledger/internal/config"
)

const fetchWait = 250 * time.Millisecond

type KafkaSource struct {
	reader *kafka.Reader
}

func NewKafkaSource(cfg config.IngestConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka source requires group id")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source requires a topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
		// offsets are committed explicitly once a batch is applied
		CommitInterval: 0,
	})
	return &KafkaSource{reader: reader}, nil
}

// Fetch returns up to max messages, or fewer once the stream goes quiet.
func (s *KafkaSource) Fetch(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	out := make([]Message, 0, max)
	for i := 0; i < max; i++ {
		wait := fetchWait
		if len(out) == 0 {
			wait = 2 * fetchWait
		}
		readCtx, cancel := context.WithTimeout(ctx, wait)
		msg, err := s.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return out, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return out, nil
			default:
				return out, err
			}
		}
		out = append(out, Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		})
	}
	return out, nil
}

func (s *KafkaSource) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	commits := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		commits = append(commits, kafka.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
		})
	}
	return s.reader.CommitMessages(ctx, commits...)
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
