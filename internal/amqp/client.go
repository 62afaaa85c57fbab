// Package amqp publishes ledger events and carries asynchronous invoice
// requests over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"pagos/internal/core"
	"pagos/internal/ledger"
	"pagos/internal/log"
)

// Config names the broker topology.
type Config struct {
	URL          string
	Exchange     string
	EventsQueue  string
	InvoiceQueue string
}

type Client struct {
	url          string
	exchangeName string
	queueName    string // invoice requests
	eventsQueue  string
	logger       *log.Logger

	mu          sync.Mutex
	conn        *amqp091.Connection
	channel     *amqp091.Channel
	lastFailure time.Time

	state        int32
	failureCount int64
}

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default(log.ComponentAMQP)
	}
	c := &Client{
		url:          cfg.URL,
		exchangeName: cfg.Exchange,
		queueName:    cfg.InvoiceQueue,
		eventsQueue:  cfg.EventsQueue,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials the broker and declares the topology. Callers hold no lock.
func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.queueName, c.eventsQueue} {
		if queue == "" {
			continue
		}
		if _, err := ch.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		// Routing key equals the queue name on the direct exchange.
		if err := ch.QueueBind(queue, queue, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil
	}
	return c.channel
}

func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 0; attempt < maxFailures; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.InfoContext(ctx, "Reconnected to broker", "attempt", attempt+1)
			return nil
		}
		c.logger.WarnContext(ctx, "Reconnect failed", "attempt", attempt+1, log.FieldError, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}
	}
	return fmt.Errorf("reconnect to broker: gave up after %d attempts", maxFailures)
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: circuit breaker is open", routingKey)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.currentChannel()
	if ch == nil {
		if err := c.reconnect(ctx); err != nil {
			c.recordFailure()
			return err
		}
		ch = c.currentChannel()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.channel = nil
			c.mu.Unlock()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Publish implements ledger.EventPublisher.
func (c *Client) Publish(ctx context.Context, e ledger.Event) error {
	if c.eventsQueue == "" {
		return nil
	}
	body, err := NewEventMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.publish(ctx, c.eventsQueue, body); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "Published ledger event",
		"kind", string(e.Kind), log.FieldPaymentID, e.PaymentID, "queue", c.eventsQueue)
	return nil
}

// PublishInvoiceRequest queues an invoice request for the worker.
func (c *Client) PublishInvoiceRequest(ctx context.Context, req *InvoiceRequest) error {
	body, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal invoice request: %w", err)
	}
	if err := c.publish(ctx, c.queueName, body); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Published invoice request",
		log.FieldPaymentID, req.PaymentID,
		log.FieldDocumentType, req.DocumentType,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// InvoiceHandler processes one invoice request.
type InvoiceHandler func(ctx context.Context, req *InvoiceRequest) error

// shouldRequeue reports whether a failed request may be retried safely.
// Domain outcomes (duplicate, validation, gateway verdicts) are final: a
// blind retry could issue the document twice.
func shouldRequeue(err error) bool {
	return errors.Is(err, core.ErrPersistence) ||
		errors.Is(err, core.ErrConcurrentModification) ||
		errors.Is(err, context.Canceled)
}

// ConsumeInvoiceRequests delivers invoice requests to handler until ctx is done.
func (c *Client) ConsumeInvoiceRequests(ctx context.Context, handler InvoiceHandler) error {
	ch := c.currentChannel()
	if ch == nil {
		return errors.New("start consuming: channel is not open")
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming invoice requests", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler InvoiceHandler) {
	c.dispatch(ctx, delivery.MessageId, delivery.Body, delivery, handler)
}

// dispatch decodes body, runs handler and settles the message.
func (c *Client) dispatch(ctx context.Context, messageID string, body []byte, ack acknowledger, handler InvoiceHandler) {
	req, err := InvoiceRequestFromJSON(body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Discarding malformed invoice request", log.FieldMessageID, messageID, log.FieldError, err)
		_ = ack.Nack(false, false)
		return
	}

	start := time.Now()
	err = handler(ctx, req)
	fields := log.NewFields().
		With(log.FieldPaymentID, req.PaymentID).
		With(log.FieldDocumentType, req.DocumentType).
		With(log.FieldDuration, time.Since(start).Milliseconds())

	switch {
	case err == nil:
		_ = ack.Ack(false)
		c.logger.InfoContext(ctx, "Processed invoice request", fields.ToSlice()...)
	case shouldRequeue(err):
		_ = ack.Nack(false, true)
		c.logger.WarnContext(ctx, "Invoice request requeued", fields.WithError(err).ToSlice()...)
	default:
		_ = ack.Ack(false)
		c.logger.ErrorContext(ctx, "Invoice request failed", fields.WithError(err).ToSlice()...)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
