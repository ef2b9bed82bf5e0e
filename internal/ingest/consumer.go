package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"proctor/internal/detection_processor"
	"proctor/internal/metrics"
)

const source = "kafka"

// Config holds the consumer tunables.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// BatchProcessor scores one decoded batch. *detection_processor.Processor satisfies it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch detection_processor.Batch) (*detection_processor.BatchResult, error)
}

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds detection batches published by the vision pipeline into the
// processor.
type Consumer struct {
	cfg       Config
	reader    messageReader
	processor BatchProcessor
	logger    *zap.Logger
}

// NewConsumer builds a consumer-group reader for cfg.Topic.
func NewConsumer(cfg Config, processor BatchProcessor, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("detection topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newConsumer(cfg, reader, processor, logger), nil
}

func newConsumer(cfg Config, reader messageReader, processor BatchProcessor, logger *zap.Logger) *Consumer {
	return &Consumer{cfg: cfg, reader: reader, processor: processor, logger: logger}
}

// Close shuts down the underlying Kafka reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run consumes until ctx is cancelled or the reader is closed. Every fetched
// message is committed once handled, including ones that fail to decode or
// are rejected by the processor.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Detection consumer started",
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
		zap.Strings("brokers", c.cfg.Brokers),
		zap.Duration("poll_timeout", c.cfg.PollTimeout),
	)
	defer c.logger.Info("Detection consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return nil
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			c.logger.Error("Failed to fetch detection message", zap.Error(err))
			continue
		}

		c.handle(ctx, msg)

		commitCtx, commitCancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.logger.Error("Failed to commit detection message", zap.Int64("offset", msg.Offset), zap.Error(err))
			}
		}
		commitCancel()
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	batch, err := decodeBatch(msg)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("invalid").Inc()
		c.logger.Warn("Dropping undecodable detection message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	result, err := c.processor.ProcessBatch(ctx, batch)
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, detection_processor.ErrPersistence) {
			outcome = "failed"
		}
		metrics.IngestMessages.WithLabelValues(outcome).Inc()
		c.logger.Warn("Detection batch not processed",
			zap.Int64("session_id", batch.SessionID),
			zap.Int64("offset", msg.Offset),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return
	}

	metrics.IngestMessages.WithLabelValues("processed").Inc()
	c.logger.Debug("Detection batch consumed",
		zap.String("batch_id", result.BatchID),
		zap.Int64("session_id", batch.SessionID),
		zap.Int64("offset", msg.Offset),
	)
}

// decodeBatch reads a batch from the message value. When the payload has no
// session_id the message key is used instead.
func decodeBatch(msg kafka.Message) (detection_processor.Batch, error) {
	var batch detection_processor.Batch
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	if err := dec.Decode(&batch); err != nil {
		return batch, fmt.Errorf("decode detection batch: %w", err)
	}
	if batch.SessionID == 0 && len(msg.Key) > 0 {
		id, err := strconv.ParseInt(strings.TrimSpace(string(msg.Key)), 10, 64)
		if err != nil {
			return batch, fmt.Errorf("message key %q is not a session id: %w", msg.Key, err)
		}
		batch.SessionID = id
	}
	if batch.SessionID <= 0 {
		return batch, errors.New("session_id missing or not positive")
	}
	batch.Source = source
	return batch, nil
}
