package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	OutboxTopic = "checkout-outbox"
	groupID     = "cart-service-consumer"
)

// CartClearer empties a session's cart.
type CartClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// completedEvent is the subset of the checkout-outbox payload the cart
// needs. Older producers only send user_id.
type completedEvent struct {
	CheckoutID string `json:"checkout_id"`
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
}

// Poller clears carts once the checkout service reports a completed checkout.
type Poller struct {
	carts  CartClearer
	reader messageReader
	log    *zap.Logger
	retry  backoff.BackOff
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

func NewPoller(carts CartClearer, log *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    OutboxTopic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, log: log, retry: newRetryBackOff()}
}

// Run consumes completed checkouts until ctx is done. Read failures are
// retried with exponential backoff.
func (p *Poller) Run(ctx context.Context) {
	retry := p.retry
	if retry == nil {
		retry = newRetryBackOff()
	}

	for ctx.Err() == nil {
		if err := p.getMessageAndClearCart(ctx); err == nil {
			retry.Reset()
			continue
		}

		wait := time.NewTimer(retry.NextBackOff())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

// getMessageAndClearCart returns an error only when the read itself failed.
func (p *Poller) getMessageAndClearCart(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.log.Warn("error reading message", zap.Error(err))
		return err
	}

	sessionID, err := parseSessionID(m.Value)
	if err != nil {
		p.log.Warn("skipping checkout event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	if err := p.carts.Clear(ctx, sessionID); err != nil {
		p.log.Error("failed to clear cart", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	p.log.Info("cart cleared after checkout", zap.String("session_id", sessionID))
	return nil
}

func parseSessionID(value []byte) (string, error) {
	var event completedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return "", fmt.Errorf("error parsing message: %w", err)
	}
	if event.SessionID != "" {
		return event.SessionID, nil
	}
	if event.UserID != "" {
		return event.UserID, nil
	}
	return "", errors.New("missing session_id and user_id")
}
