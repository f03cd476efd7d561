// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package consumer wires the upstream status streams into the projection
// engine. Each stream gets a durable JetStream subscription and a batch
// loop; offsets are acknowledged only after the batch's storage
// transaction has committed.
package consumer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/logging"
)

// Subscriber wraps a Watermill NATS subscriber shared by all stream loops.
// Durable consumers with a queue group balance partitions across replicas
// while preserving per-subject ordering.
type Subscriber struct {
	subscriber message.Subscriber
}

// NewSubscriber connects a durable JetStream subscriber from config.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	logger := watermillLogger{}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverAll(),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    true,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurablePrefix,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Subscriber{subscriber: sub}, nil
}

// Subscribe returns the message channel for a topic. The channel closes when
// the context is canceled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Close drains and shuts down all subscriptions.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}

// watermillLogger adapts the process logger to watermill's interface.
type watermillLogger struct {
	fields watermill.LogFields
}

func (l watermillLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), msg, fields)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Info(), msg, fields)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), msg, fields)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), msg, fields)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return watermillLogger{fields: merged}
}
