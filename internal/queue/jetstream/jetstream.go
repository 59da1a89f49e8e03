package jetstream

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/swarmgrid/swarm-core/internal/config"
	"github.com/swarmgrid/swarm-core/internal/queue"
	"github.com/swarmgrid/swarm-core/internal/service/logger"
)

type JetStreamClient struct {
	connection *nats.Conn
	context    nats.JetStreamContext
	cfg        *config.NatsConfig
	done       chan struct{}
}

func NewJetStreamQueueClient() (queue.Queue, error) {
	cfg, err := config.GetNatsConfig()
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Name("swarm-core"),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.DELIVERY_STREAM,
		Subjects: []string{"delivery.>"},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, err
	}

	_, err = js.AddConsumer(cfg.DELIVERY_STREAM, &nats.ConsumerConfig{
		Durable:   "deliverer",
		AckPolicy: nats.AckExplicitPolicy,
		AckWait:   30 * time.Second,
		// The delivery worker owns its own back-off; the broker only
		// redelivers when the worker dies mid-handling.
		MaxDeliver:    5,
		DeliverPolicy: nats.DeliverAllPolicy,
	})
	if err != nil && !strings.Contains(err.Error(), "consumer name already in use") {
		return nil, err
	}

	return &JetStreamClient{
		connection: nc,
		context:    js,
		cfg:        cfg,
		done:       make(chan struct{}),
	}, nil
}

func (c *JetStreamClient) PublishDelivery(ctx context.Context, jobID int64) error {
	_, err := c.context.Publish(c.cfg.DELIVERY_SUBJECT,
		[]byte(strconv.FormatInt(jobID, 10)), nats.Context(ctx))
	return err
}

func (c *JetStreamClient) SubscribeDelivery(handler func(ctx context.Context, jobID int64) error) error {
	sub, err := c.context.PullSubscribe(c.cfg.DELIVERY_SUBJECT, "deliverer",
		nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return err
	}

	log := logger.Module("delivery_queue")
	go func() {
		for {
			select {
			case <-c.done:
				return
			default:
			}
			msgs, err := sub.Fetch(1, nats.MaxWait(30*time.Second))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				time.Sleep(time.Second)
				continue
			}
			for _, msg := range msgs {
				jobID, err := strconv.ParseInt(string(msg.Data), 10, 64)
				if err != nil {
					log.Warn().Str("payload", string(msg.Data)).Msg("dropping malformed delivery message")
					_ = msg.Ack()
					continue
				}
				if err := handler(context.Background(), jobID); err != nil {
					log.Error().Err(err).Int64("job_id", jobID).Msg("delivery handling failed")
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
			}
		}
	}()
	return nil
}

func (c *JetStreamClient) Shutdown() {
	close(c.done)
	_ = c.connection.Drain()
	c.connection.Close()
}
