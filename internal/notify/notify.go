// Package notify publishes trade events to interested consumers. Delivery
// is fire-and-forget: a publish failure is logged and never propagates back
// into settlement.
package notify

import (
	"context"
	"encoding/json"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

// Notifier receives settled trades.
type Notifier interface {
	TradeExecuted(ctx context.Context, trade models.Trade)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) TradeExecuted(ctx context.Context, trade models.Trade) {}

// AMQP publishes trade events as JSON to a fanout exchange.
type AMQP struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *logrus.Entry
}

func NewAMQP(url, exchange string, log *logrus.Entry) (*AMQP, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	return &AMQP{conn: conn, channel: channel, exchange: exchange, log: log}, nil
}

func (n *AMQP) TradeExecuted(ctx context.Context, trade models.Trade) {
	body, err := json.Marshal(trade)
	if err != nil {
		n.log.WithError(err).Error("marshal trade event")
		return
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, "", false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		n.log.WithFields(logrus.Fields{"tradeId": trade.ID}).WithError(err).Warn("trade notification dropped")
	}
}

func (n *AMQP) Close() {
	n.channel.Close()
	n.conn.Close()
}
