package rabbitmq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	amqp "github.com/streadway/amqp"

	"rplhub/internal/models"
)

// SubmissionQueue carries a message each time a submission is saved.
const SubmissionQueue = "submission_events"

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // serializes publishes on the shared channel
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ, opens a channel and declares the submission queue.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := declareQueue(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Info().Str("queue", SubmissionQueue).Msg("RabbitMQ client connected")

	return &Client{
		conn:    conn,
		channel: ch,
	}, nil
}

func declareQueue(ch *amqp.Channel) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		SubmissionQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return q, fmt.Errorf("failed to declare %s: %w", SubmissionQueue, err)
	}
	return q, nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// PublishSubmissionSaved publishes a persistent JSON message to the submission queue.
func (c *Client) PublishSubmissionSaved(event models.SubmissionSavedEvent) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submission event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.Publish(
		"",              // default exchange
		SubmissionQueue, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         "submission.saved",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Debug().Str("username", event.Username).Msg("submission event published")
	return nil
}

// ConsumeSubmissionEvents starts a goroutine delivering submission messages to
// handler. Messages are acked when handler returns nil and requeued otherwise,
// except for bodies that cannot be decoded at all, which are dropped.
func (c *Client) ConsumeSubmissionEvents(handler func(models.SubmissionSavedEvent) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	queue, err := declareQueue(c.channel)
	if err != nil {
		return err
	}

	msgs, err := c.channel.Consume(
		queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Info().Str("queue", queue.Name).Msg("waiting for submission events")

	go func() {
		for msg := range msgs {
			handleDelivery(msg, handler)
		}
		log.Info().Msg("submission event consumer stopped")
	}()
	return nil
}

// acknowledger is the part of amqp.Delivery the consumer loop needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(msg amqp.Delivery, handler func(models.SubmissionSavedEvent) error) {
	process(&msg, msg.DeliveryTag, msg.Body, handler)
}

func process(ack acknowledger, tag uint64, body []byte, handler func(models.SubmissionSavedEvent) error) {
	var event models.SubmissionSavedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error().Err(err).Uint64("tag", tag).Msg("dropping undecodable submission event")
		if err := ack.Nack(false, false); err != nil {
			log.Error().Err(err).Uint64("tag", tag).Msg("error nacking message")
		}
		return
	}
	if err := handler(event); err != nil {
		log.Error().Err(err).Uint64("tag", tag).Msg("error processing submission event")
		if err := ack.Nack(false, true); err != nil {
			log.Error().Err(err).Uint64("tag", tag).Msg("error nacking message")
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		log.Error().Err(err).Uint64("tag", tag).Msg("error acking message")
	}
}

// LogSubmissionEvent is the default consumer: it records each save in the log.
func LogSubmissionEvent(event models.SubmissionSavedEvent) error {
	log.Info().
		Str("username", event.Username).
		Str("class_name", event.ClassName).
		Bool("done", event.Done).
		Time("last_updated", event.LastUpdated).
		Msg("submission saved")
	return nil
}
