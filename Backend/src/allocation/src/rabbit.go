package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Rabbit: entrada/salida asíncrona. Opcional: con RABBITMQ_URL vacía
// NewRabbit devuelve nil y todos los métodos son no-op.
type Rabbit struct {
	cfg   Config
	conn  *amqp.Connection
	ch    *amqp.Channel
	coord *Coordinator
}

func NewRabbit(cfg Config, coord *Coordinator) (*Rabbit, error) {
	if cfg.RabbitURL == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	r := &Rabbit{cfg: cfg, conn: conn, ch: ch, coord: coord}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		r.Close()
		return nil, err
	}
	for _, q := range []string{cfg.QAllocateReq, cfg.QAllocateRes} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Rabbit) Close() {
	if r == nil {
		return
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// Publish emite un evento de decisión en el exchange topic.
func (r *Rabbit) Publish(ctx context.Context, routingKey string, body []byte) error {
	if r == nil || r.ch == nil {
		return nil
	}
	return r.ch.PublishWithContext(ctx, r.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (r *Rabbit) publishJSON(ctx context.Context, queue string, v any) error {
	if r == nil || r.ch == nil {
		return nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// StartConsumer procesa solicitudes de asignación de la cola de
// requests y publica el resultado por request en la cola de results.
func (r *Rabbit) StartConsumer(ctx context.Context) error {
	if r == nil || r.ch == nil {
		return nil
	}
	msgs, err := r.ch.Consume(r.cfg.QAllocateReq, "allocation-worker", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for m := range msgs {
			var req AllocateRequestMsg
			if err := json.Unmarshal(m.Body, &req); err != nil {
				log.Error().Err(err).Msg("allocate: invalid json")
				_ = m.Ack(false)
				continue
			}
			log.Info().Str("request", req.RequestID).Str("resource", req.ResourceID).
				Int64("qty", req.Qty).Msg("allocate: received")

			res := r.handle(ctx, req)
			if err := r.publishJSON(ctx, r.cfg.QAllocateRes, res); err != nil {
				log.Error().Err(err).Msg("allocate: publish result failed")
			}
			_ = m.Ack(false)
		}
		log.Warn().Msg("allocate consumer stopped")
	}()
	return nil
}

func (r *Rabbit) handle(ctx context.Context, req AllocateRequestMsg) AllocateResultMsg {
	res := AllocateResultMsg{RequestID: req.RequestID}

	a, err := r.coord.Allocate(ctx, req.ResourceID, req.Qty)
	if err != nil {
		res.State = ResultRejected
		res.Reason = err.Error()
		var ins ErrInsufficient
		if errors.As(err, &ins) {
			res.AvailableQty = ins.Available
		}
		return res
	}
	res.State = ResultConfirmed
	res.AllocationID = a.ID
	return res
}
