// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/helsearbeid/oversikt/internal/events"
	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/metrics"
	"github.com/helsearbeid/oversikt/internal/projection"
)

// identHeader is the message header carrying the upstream record key, the
// person ident for every stream except identhendelse.
const identHeader = "key"

// Mapper translates one record payload into zero or more track updates.
type Mapper func(key string, payload []byte) ([]projection.Update, error)

// TombstoneMapper builds the clearing update for a deleted upstream record,
// if the stream defines tombstone semantics.
type TombstoneMapper func(key string) (projection.Update, bool)

// StreamSpec describes one upstream stream: its topic, its mapper, and how
// its batches are committed.
type StreamSpec struct {
	// Name labels logs and metrics.
	Name string

	// Topic is the subject the durable subscription binds to.
	Topic string

	Mapper Mapper

	// OnTombstone is nil for streams where a null payload only means
	// upstream retention cleanup.
	OnTombstone TombstoneMapper

	// Batch selects the commit policy. Identity events use per-record
	// isolation so one failed migration cannot wedge the stream.
	Batch projection.BatchPolicy
}

// Engine is the merge surface the loop dispatches to.
type Engine interface {
	ProcessBatch(ctx context.Context, updates []projection.Update, policy projection.BatchPolicy) (projection.Result, error)
}

// Loop consumes one stream in batches. Records are gathered until the batch
// size or the poll timeout is reached, merged per the stream's commit
// policy, and acknowledged only after storage commits. Failed records nack
// for redelivery, as a whole batch on atomic streams and individually on
// per-record streams.
type Loop struct {
	sub    *Subscriber
	engine Engine
	spec   StreamSpec

	batchSize   int
	pollTimeout time.Duration
}

// NewLoop creates a batch loop for one stream.
func NewLoop(sub *Subscriber, engine Engine, spec StreamSpec, batchSize int, pollTimeout time.Duration) *Loop {
	if batchSize < 1 {
		batchSize = 1
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Loop{
		sub:         sub,
		engine:      engine,
		spec:        spec,
		batchSize:   batchSize,
		pollTimeout: pollTimeout,
	}
}

// Name returns the stream name for supervision labels.
func (l *Loop) Name() string {
	return l.spec.Name
}

// Run consumes until the context is canceled. A closed message channel
// returns an error so the supervisor restarts the subscription.
func (l *Loop) Run(ctx context.Context) error {
	messages, err := l.sub.Subscribe(ctx, l.spec.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", l.spec.Topic, err)
	}

	logging.Info().
		Str("stream", l.spec.Name).
		Str("topic", l.spec.Topic).
		Msg("Stream consumer started")

	for {
		batch, err := l.gather(ctx, messages)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		l.processBatch(ctx, batch)
	}
}

// gather blocks for the first message, then drains until the batch is full
// or the poll timeout elapses.
func (l *Loop) gather(ctx context.Context, messages <-chan *message.Message) ([]*message.Message, error) {
	var batch []*message.Message

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-messages:
		if !ok {
			return nil, fmt.Errorf("stream %s: message channel closed", l.spec.Name)
		}
		batch = append(batch, msg)
	}

	timer := time.NewTimer(l.pollTimeout)
	defer timer.Stop()

	for len(batch) < l.batchSize {
		select {
		case <-ctx.Done():
			return batch, nil
		case <-timer.C:
			return batch, nil
		case msg, ok := <-messages:
			if !ok {
				return batch, nil
			}
			batch = append(batch, msg)
		}
	}
	return batch, nil
}

// processBatch maps the gathered records and commits them. Tombstones and
// undecodable payloads are counted and never fail the batch. Atomic streams
// share one transaction and ack or nack as a unit; per-record streams
// commit each record on its own, so only the records that failed are
// redelivered.
func (l *Loop) processBatch(ctx context.Context, batch []*message.Message) {
	start := time.Now()
	metrics.StreamRecordsConsumed.WithLabelValues(l.spec.Name).Add(float64(len(batch)))

	if l.spec.Batch == projection.BatchPerRecord {
		l.processPerRecord(ctx, batch, start)
		return
	}
	l.processAtomic(ctx, batch, start)
}

func (l *Loop) processAtomic(ctx context.Context, batch []*message.Message, start time.Time) {
	stream := l.spec.Name

	var updates []projection.Update
	for _, msg := range batch {
		updates = append(updates, l.mapRecord(msg)...)
	}

	result, err := l.engine.ProcessBatch(ctx, updates, projection.BatchAtomic)
	if err != nil {
		metrics.RecordBatch(stream, time.Since(start), false)
		logging.Error().
			Err(err).
			Str("stream", stream).
			Int("records", len(batch)).
			Msg("Batch commit failed, nacking for redelivery")
		for _, msg := range batch {
			msg.Nack()
		}
		return
	}

	for _, msg := range batch {
		msg.Ack()
	}
	metrics.RecordBatch(stream, time.Since(start), true)

	logging.Debug().
		Str("stream", stream).
		Int("records", len(batch)).
		Int("applied", result.Applied()).
		Int("discarded", result.Discarded).
		Int("failed", result.Failed).
		Msg("Batch committed")
}

func (l *Loop) processPerRecord(ctx context.Context, batch []*message.Message, start time.Time) {
	stream := l.spec.Name

	var applied, discarded, nacked int
	for _, msg := range batch {
		updates := l.mapRecord(msg)
		if len(updates) == 0 {
			msg.Ack()
			continue
		}

		result, err := l.engine.ProcessBatch(ctx, updates, projection.BatchPerRecord)
		applied += result.Applied()
		discarded += result.Discarded
		if err != nil || result.Failed > 0 {
			nacked++
			logging.Warn().
				Err(err).
				Str("stream", stream).
				Str("message_uuid", msg.UUID).
				Msg("Record failed, nacking for redelivery")
			msg.Nack()
			continue
		}
		msg.Ack()
	}
	metrics.RecordBatch(stream, time.Since(start), nacked == 0)

	logging.Debug().
		Str("stream", stream).
		Int("records", len(batch)).
		Int("applied", applied).
		Int("discarded", discarded).
		Int("nacked", nacked).
		Msg("Batch committed")
}

// mapRecord decodes one record into track updates. Tombstones yield the
// stream's clearing update when one is defined; undecodable payloads are
// counted and skipped.
func (l *Loop) mapRecord(msg *message.Message) []projection.Update {
	stream := l.spec.Name
	key := msg.Metadata.Get(identHeader)

	if len(msg.Payload) == 0 {
		metrics.StreamTombstones.WithLabelValues(stream).Inc()
		if l.spec.OnTombstone != nil {
			if upd, ok := l.spec.OnTombstone(key); ok {
				return []projection.Update{upd}
			}
		}
		return nil
	}

	mapped, err := l.spec.Mapper(key, msg.Payload)
	if err != nil {
		metrics.StreamParseFailures.WithLabelValues(stream).Inc()
		level := logging.Warn()
		if errors.Is(err, events.ErrUnrecognizedSubtype) {
			level = logging.Debug()
		}
		level.Err(err).
			Str("stream", stream).
			Str("message_uuid", msg.UUID).
			Msg("Record skipped")
		return nil
	}
	return mapped
}
