// Package event fans activity entries out to an AMQP topic exchange.
package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/streadway/amqp"

	"github.com/shrimpsizemoose/examportal/internal/models"
)

type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

type message struct {
	Type    models.ActivityType `json:"type"`
	Payload models.ActivityLog  `json:"payload"`
}

// Encode builds the message body for one activity entry.
func Encode(entry models.ActivityLog) ([]byte, error) {
	return json.Marshal(message{Type: entry.Type, Payload: entry})
}

// RoutingKey is "activity." followed by the lowercased type, e.g.
// "activity.submission".
func RoutingKey(t models.ActivityType) string {
	return "activity." + strings.ToLower(string(t))
}

func (p *Publisher) Publish(entry models.ActivityLog) error {
	body, err := Encode(entry)
	if err != nil {
		return err
	}

	return p.channel.Publish(
		p.exchange,
		RoutingKey(entry.Type),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   entry.Timestamp,
			MessageId:   entry.ID,
			Body:        body,
		},
	)
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
