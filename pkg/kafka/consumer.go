package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"QuotePulse/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// Consumer runs one reader goroutine per registered topic. Handler errors
// are logged and the offset is committed anyway; the upstream feed is a
// hint stream, not a ledger.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewConsumer creates a Kafka consumer.
func NewConsumer(log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:  "quotepulse",
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	return &Consumer{
		cfg:      cfg,
		log:      log.Named("kafka_consumer"),
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		stopCh:   make(chan struct{}),
	}, nil
}

// RegisterHandler registers a handler for its topic. Last registration wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	c.handlers[h.Topic()] = h
}

// Start spawns a reader loop per registered topic.
func (c *Consumer) Start(ctx context.Context) {
	for topic, h := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers[topic] = reader

		c.wg.Add(1)
		go c.consume(ctx, topic, reader, h)
		c.log.Info("consuming topic", logger.String("topic", topic))
	}
}

// Stop closes all readers and waits for the loops to drain.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		for _, r := range c.readers {
			_ = r.Close()
		}
	})
	c.wg.Wait()
}

func (c *Consumer) consume(ctx context.Context, topic string, reader *kafka.Reader, h MessageHandler) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		msg, err := reader.ReadMessage(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn("read failed", logger.String("topic", topic), logger.Error(err))
			time.Sleep(time.Second)
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("handler panic", logger.String("topic", topic), logger.Any("recover", r))
				}
			}()
			if err := h.Handle(ctx, msg.Value); err != nil {
				c.log.Warn("handler failed", logger.String("topic", topic), logger.Error(err))
			}
		}()
	}
}
