package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/models"
)

const reconnectDelay = 5 * time.Second

// publishChannel is the part of *amqp.Channel the publisher uses
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher hands match results to the notification service over the events exchange
type RabbitMQPublisher struct {
	mu           sync.RWMutex
	conn         *amqp.Connection
	channel      publishChannel
	exchangeName string
	url          string
	done         chan struct{}
}

// NewRabbitMQPublisher creates a new RabbitMQ publisher
func NewRabbitMQPublisher(url, exchangeName string) (*RabbitMQPublisher, error) {
	conn, channel, err := dialExchange(url, exchangeName)
	if err != nil {
		return nil, err
	}

	publisher := &RabbitMQPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		url:          url,
		done:         make(chan struct{}),
	}

	go publisher.handleReconnect(conn)

	log.Info().
		Str("exchange", exchangeName).
		Msg("RabbitMQ publisher initialized")

	return publisher, nil
}

// dialExchange connects, opens a channel and declares the topic exchange (idempotent)
func dialExchange(url, exchangeName string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return conn, channel, nil
}

// NotifyMatches publishes a matches.found event for the notification service
func (p *RabbitMQPublisher) NotifyMatches(ctx context.Context, lostItemID string, matchCount int) error {
	return p.publish(ctx, models.RoutingKeyMatchesFound, models.MatchesFoundEvent{
		LostItemID: lostItemID,
		MatchCount: matchCount,
		Timestamp:  time.Now().UTC(),
	})
}

// publish publishes a message to the exchange with the given routing key
func (p *RabbitMQPublisher) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.RLock()
	channel := p.channel
	p.mu.RUnlock()

	if channel == nil {
		return fmt.Errorf("RabbitMQ channel is not open")
	}

	err = channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    uuid.NewString(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Info().
		Str("routing_key", routingKey).
		Str("exchange", p.exchangeName).
		Int("body_size", len(body)).
		Msg("Message published to RabbitMQ")

	return nil
}

// handleReconnect redials after the broker drops the connection until Close is called
func (p *RabbitMQPublisher) handleReconnect(conn *amqp.Connection) {
	for {
		closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if !ok || closeErr == nil {
			return
		}

		log.Error().
			Err(closeErr).
			Msg("RabbitMQ connection closed, attempting to reconnect...")

		for {
			select {
			case <-p.done:
				return
			case <-time.After(reconnectDelay):
			}

			newConn, channel, err := dialExchange(p.url, p.exchangeName)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")
				continue
			}

			p.mu.Lock()
			p.conn = newConn
			p.channel = channel
			p.mu.Unlock()

			conn = newConn
			log.Info().Msg("Successfully reconnected to RabbitMQ")
			break
		}
	}
}

// Close closes the RabbitMQ connection
func (p *RabbitMQPublisher) Close() error {
	if p.done != nil {
		close(p.done)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return err
		}
	}
	log.Info().Msg("RabbitMQ publisher closed")
	return nil
}

// HealthCheck verifies the RabbitMQ connection
func (p *RabbitMQPublisher) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}
	if p.channel == nil {
		return fmt.Errorf("RabbitMQ channel is nil")
	}
	return nil
}
