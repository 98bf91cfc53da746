package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/echosecure-chat/internal/logging"
)

// Publisher hands passcodes to the broker. It dials per publish: logins are
// rare enough that a pooled channel is not worth its reconnect handling.
type Publisher struct {
	url string
	ttl time.Duration
	log logging.Logger
	now func() time.Time
}

func NewPublisher(url string, ttl time.Duration, log logging.Logger) *Publisher {
	return &Publisher{url: url, ttl: ttl, log: log.With("component", "otp-publisher"), now: time.Now}
}

// SendOTP publishes an OTPIssuedEvent to the otp.issued queue. Messages are
// persistent so a broker restart does not lose a pending login.
func (p *Publisher) SendOTP(ctx context.Context, email, fullName, otp string) error {
	body, err := json.Marshal(OTPIssuedEvent{
		Email:     email,
		FullName:  fullName,
		OTP:       otp,
		ExpiresIn: p.ttl.String(),
		IssuedAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error(ctx, "broker dial failed", "err", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error(ctx, "channel open failed", "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch); err != nil {
		p.log.Error(ctx, "queue declare failed", "err", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", otpQueueName, false, false, pub); err != nil {
		p.log.Error(ctx, "publish failed", "err", err)
		return err
	}
	p.log.Debug(ctx, "otp published", "email", email)
	return nil
}

func declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		otpQueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	return err
}
