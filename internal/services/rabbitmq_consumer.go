package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/matching"
	"github.com/hacknation/campus-lost-found/internal/metrics"
	"github.com/hacknation/campus-lost-found/internal/models"
)

// MatchRunner runs matching for one lost item
type MatchRunner interface {
	Run(ctx context.Context, lostItemID string) (*matching.Result, error)
}

// deliveryAction is what the consume loop does with a message after handling it
type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionRequeue
	actionDrop
)

// RabbitMQConsumer runs matching whenever a lost item is reported
type RabbitMQConsumer struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	runner       MatchRunner
	exchangeName string
	queueName    string
}

func NewRabbitMQConsumer(url, exchangeName, queueName string, runner MatchRunner) (*RabbitMQConsumer, error) {
	conn, channel, err := dialExchange(url, exchangeName)
	if err != nil {
		return nil, err
	}

	consumer := &RabbitMQConsumer{
		conn:         conn,
		channel:      channel,
		runner:       runner,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	return consumer, nil
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	q, err := c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		q.Name,
		models.RoutingKeyLostItemReported,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", models.RoutingKeyLostItemReported, err)
	}

	// One run at a time per consumer; each run already fans out its vision calls.
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go c.consumeLoop(ctx, msgs)

	log.Info().Str("queue", q.Name).Msg("Matcher RabbitMQ consumer started")
	return nil
}

func (c *RabbitMQConsumer) consumeLoop(ctx context.Context, msgs <-chan amqp.Delivery) {
	for d := range msgs {
		log.Info().Str("routing_key", d.RoutingKey).Msg("Received lost item event")

		var err error
		switch c.handle(ctx, d.Body, d.Redelivered) {
		case actionAck:
			err = d.Ack(false)
		case actionRequeue:
			err = d.Nack(false, true)
		case actionDrop:
			err = d.Nack(false, false)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to acknowledge message")
		}
	}
	log.Info().Msg("Matcher RabbitMQ consumer stopped")
}

// handle runs matching for one event. Missing items are dropped; other
// failures are retried once through redelivery.
func (c *RabbitMQConsumer) handle(ctx context.Context, body []byte, redelivered bool) deliveryAction {
	var event models.LostItemReportedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal lost item event")
		metrics.TriggerMessagesTotal.WithLabelValues("malformed").Inc()
		return actionDrop
	}

	lostItemID := strings.TrimSpace(event.LostItemID)
	if lostItemID == "" {
		log.Warn().Msg("Lost item event missing lost_item_id")
		metrics.TriggerMessagesTotal.WithLabelValues("malformed").Inc()
		return actionAck
	}

	result, err := c.runner.Run(ctx, lostItemID)
	if err != nil {
		if errors.Is(err, matching.ErrLostItemNotFound) {
			log.Warn().Str("lost_item_id", lostItemID).Msg("Lost item not found for event")
			metrics.TriggerMessagesTotal.WithLabelValues("not_found").Inc()
			return actionAck
		}

		metrics.TriggerMessagesTotal.WithLabelValues("failed").Inc()
		if redelivered {
			log.Error().Err(err).Str("lost_item_id", lostItemID).Msg("Matching failed on redelivery, dropping event")
			return actionDrop
		}
		log.Error().Err(err).Str("lost_item_id", lostItemID).Msg("Matching failed, requeueing event")
		return actionRequeue
	}

	metrics.TriggerMessagesTotal.WithLabelValues("ok").Inc()
	log.Info().
		Str("lost_item_id", lostItemID).
		Int("matches_found", result.MatchesFound()).
		Msg("Processed lost item event")
	return actionAck
}

func (c *RabbitMQConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
