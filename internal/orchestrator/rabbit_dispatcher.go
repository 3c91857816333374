package orchestrator

import (
	"context"
	"deliverly/internal/config"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"deliverly/internal/rabbitmq"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const reconnectDelay = 5 * time.Second

type jobMessage struct {
	JobID string `json:"job_id"`
}

// RabbitDispatcher publishes job ids to RabbitMQ and, when started,
// consumes them and runs the jobs
type RabbitDispatcher struct {
	client      rabbitmq.Client
	config      config.RabbitMQConfig
	runner      JobRunner
	consumerTag string

	once     sync.Once
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewRabbitDispatcher creates a broker-backed dispatcher. runner may be nil
// for publish-only use.
func NewRabbitDispatcher(client rabbitmq.Client, cfg config.RabbitMQConfig, runner JobRunner) *RabbitDispatcher {
	return &RabbitDispatcher{
		client:      client,
		config:      cfg,
		runner:      runner,
		consumerTag: fmt.Sprintf("jobs-consumer-%s", database.NewID()),
		shutdown:    make(chan struct{}),
	}
}

// Setup declares the exchange and queue and binds them
func (d *RabbitDispatcher) Setup() error {
	if err := d.client.DeclareExchange(d.config.ExchangeName, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := d.client.DeclareQueue(d.config.QueueName); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", d.config.QueueName, err)
	}

	if err := d.client.BindQueue(d.config.QueueName, d.config.ExchangeName, d.config.QueueName); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", d.config.QueueName, err)
	}

	return nil
}

// Enqueue implements Dispatcher
func (d *RabbitDispatcher) Enqueue(ctx context.Context, jobID string) error {
	body, err := json.Marshal(jobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := amqp.Table{
		"job_id": jobID,
	}

	if err := d.client.Publish(ctx, d.config.ExchangeName, d.config.QueueName, body, headers); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Debug().Str("jobID", jobID).Msg("Job published")
	return nil
}

// Start implements Dispatcher
func (d *RabbitDispatcher) Start(ctx context.Context) error {
	if d.runner == nil {
		return errors.New("no job runner configured")
	}

	if err := d.Setup(); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.consume(ctx)

	go func() {
		select {
		case <-ctx.Done():
			d.cancelConsumer()
		case <-d.shutdown:
		}
	}()

	log.Info().
		Str("queue", d.config.QueueName).
		Str("consumerTag", d.consumerTag).
		Msg("Job processing started")
	return nil
}

// Stop implements Dispatcher
func (d *RabbitDispatcher) Stop() {
	d.once.Do(func() {
		close(d.shutdown)
		d.cancelConsumer()
	})
	d.wg.Wait()

	log.Info().Msg("Job processing stopped")
}

func (d *RabbitDispatcher) cancelConsumer() {
	if err := d.client.Cancel(d.consumerTag); err != nil {
		log.Warn().Err(err).Str("consumerTag", d.consumerTag).Msg("Failed to cancel consumer")
	}
}

func (d *RabbitDispatcher) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		log.Info().Str("consumerTag", d.consumerTag).Msg("Context cancelled, stopping consumer")
		return true
	case <-d.shutdown:
		log.Info().Str("consumerTag", d.consumerTag).Msg("Shutdown signal received, stopping consumer")
		return true
	default:
		return false
	}
}

// consume reads deliveries until shutdown, reconnecting when the channel
// closes underneath it
func (d *RabbitDispatcher) consume(ctx context.Context) {
	defer d.wg.Done()

	for !d.stopping(ctx) {
		deliveries, err := d.client.Consume(d.config.QueueName, d.consumerTag)
		if err != nil {
			log.Error().
				Err(err).
				Str("queue", d.config.QueueName).
				Str("consumerTag", d.consumerTag).
				Msg("Failed to consume from queue")

			if !d.wait(ctx) {
				return
			}
			continue
		}

		for delivery := range deliveries {
			d.processDelivery(ctx, delivery)
		}

		if d.stopping(ctx) {
			return
		}

		log.Warn().
			Str("queue", d.config.QueueName).
			Str("consumerTag", d.consumerTag).
			Msg("Consumer channel closed, reconnecting...")

		if !d.wait(ctx) {
			return
		}
	}
}

func (d *RabbitDispatcher) wait(ctx context.Context) bool {
	timer := time.NewTimer(reconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-d.shutdown:
		return false
	case <-timer.C:
		return true
	}
}

// processDelivery runs the job a delivery refers to and settles the message
func (d *RabbitDispatcher) processDelivery(ctx context.Context, delivery amqp.Delivery) {
	jobID, err := deliveryJobID(delivery)
	if err != nil {
		log.Error().Err(err).Msg("Malformed job message, rejecting")
		_ = delivery.Nack(false, false)
		return
	}

	logger := log.With().Str("jobID", jobID).Logger()
	logger.Info().Msg("Processing job message")

	if err := d.runner.Run(ctx, jobID); err != nil && !errors.Is(err, model.ErrNotFound) {
		logger.Error().Err(err).Msg("Job run failed, rejecting message")
		_ = delivery.Nack(false, false)
		return
	}

	_ = delivery.Ack(false)
}

// deliveryJobID reads the job id from the headers, falling back to the body
func deliveryJobID(delivery amqp.Delivery) (string, error) {
	if id, ok := delivery.Headers["job_id"].(string); ok && id != "" {
		return id, nil
	}

	var msg jobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return "", fmt.Errorf("invalid message body: %w", err)
	}
	if msg.JobID == "" {
		return "", errors.New("message has no job_id")
	}
	return msg.JobID, nil
}
