package rabbitmq

import (
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false re-queues the message.
type Handler func([]byte) bool

const defaultPrefetch = 10

// Consumer reads one durable queue bound to a topic exchange.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	handlers map[string]Handler
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err == nil {
		err = ch.Qos(defaultPrefetch, 0, false)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings binds queueName to each routing key of bindings on exchange and
// dispatches deliveries in a background goroutine until the channel closes.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return errors.New("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	queue, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for routingKey := range handlers {
		if err := c.ch.QueueBind(queue.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.handlers = handlers

	go func() {
		for d := range deliveries {
			c.settle(d)
		}
		log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", queue.Name)
	}()
	return nil
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDrop
)

// route runs the handler bound to routingKey. Unknown keys are dropped.
func route(handlers map[string]Handler, routingKey string, body []byte) outcome {
	handler, ok := handlers[routingKey]
	if !ok {
		return outcomeDrop
	}
	if handler(body) {
		return outcomeAck
	}
	return outcomeRequeue
}

func (c *Consumer) settle(d amqp.Delivery) {
	var err error
	switch route(c.handlers, d.RoutingKey, d.Body) {
	case outcomeAck:
		err = d.Ack(false)
	case outcomeRequeue:
		log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s redelivered=%t", d.RoutingKey, d.Redelivered)
		err = d.Nack(false, true)
	case outcomeDrop:
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" routing_key=%s", d.RoutingKey)
		err = d.Reject(false)
	}
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"settle delivery failed\" routing_key=%s err=%v", d.RoutingKey, err)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
