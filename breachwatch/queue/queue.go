// Package queue carries pipeline triggers and run outcomes over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Trigger asks the worker to run one stage.
type Trigger struct {
	Stage       string `json:"stage"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// ErrEmptyTrigger is returned for a message that names no stage.
var ErrEmptyTrigger = errors.New("trigger names no stage")

// DecodeTrigger reads a JSON trigger, or a bare stage name such as "marts".
func DecodeTrigger(body []byte) (Trigger, error) {
	s := strings.TrimSpace(string(body))
	var t Trigger
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return Trigger{}, fmt.Errorf("decode trigger: %w", err)
		}
	} else {
		t.Stage = s
	}
	t.Stage = strings.TrimSpace(t.Stage)
	if t.Stage == "" {
		return Trigger{}, ErrEmptyTrigger
	}
	return t, nil
}

// Handler processes one message body. A nil return acks the message; an
// error rejects it without requeue.
type Handler func(ctx context.Context, body []byte) error

// Listener consumes one queue, one message at a time.
type Listener struct {
	URL   string
	Queue string
	// Reconnect paces reconnect attempts. Nil means ReconnectBackOff().
	// It is reset whenever a consumer registers, so a drop after a healthy
	// session starts over from the shortest wait.
	Reconnect backoff.BackOff

	// session replaces consume in tests.
	session func(ctx context.Context, h Handler, connected func()) error
}

// ReconnectBackOff doubles from 1s up to a 30s cap and never gives up.
func ReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Listen consumes until ctx is cancelled, reconnecting whenever the
// connection fails or drops.
func (l *Listener) Listen(ctx context.Context, h Handler) {
	b := l.Reconnect
	if b == nil {
		b = ReconnectBackOff()
	}
	session := l.session
	if session == nil {
		session = l.consume
	}

	for {
		err := session(ctx, h, b.Reset)
		if ctx.Err() != nil {
			slog.Info("Listener stopped", "queue", l.Queue)
			return
		}

		if err != nil {
			slog.Warn("Listener error, reconnecting", "queue", l.Queue, "error", err)
		} else {
			// Broker closed the channel cleanly, e.g. on restart.
			slog.Info("Listener disconnected, reconnecting", "queue", l.Queue)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			slog.Error("Listener giving up", "queue", l.Queue)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (l *Listener) consume(ctx context.Context, h Handler, connected func()) error {
	conn, ch, err := open(l.URL, l.Queue)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	// Prefetch of one keeps runs sequential and lets an unacked trigger be
	// redelivered if the worker dies mid-run.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch on %q: %w", l.Queue, err)
	}
	msgs, err := ch.Consume(l.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer on %q: %w", l.Queue, err)
	}
	connected()
	slog.Info("Connected to queue", "queue", l.Queue)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("connection closed: %s", amqpErr.Error())
			}
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := settle(d, h(ctx, d.Body)); err != nil {
				return err
			}
		}
	}
}

func settle(d amqp.Delivery, handlerErr error) error {
	if handlerErr != nil {
		slog.Warn("Rejecting message", "message_id", d.MessageId, "error", handlerErr)
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("reject: %w", err)
		}
		return nil
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Publish JSON-encodes v and sends it to qName as a persistent message.
func Publish(url, qName string, v any) error {
	msg, err := publishing(v)
	if err != nil {
		return err
	}

	conn, ch, err := open(url, qName)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	if err := ch.Publish("", qName, false, false, msg); err != nil {
		return fmt.Errorf("publish to %q: %w", qName, err)
	}
	slog.Debug("Published message", "queue", qName, "message_id", msg.MessageId)
	return nil
}

func publishing(v any) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// open dials url and declares qName as a durable queue.
func open(url, qName string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(qName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare queue %q: %w", qName, err)
	}
	return conn, ch, nil
}
