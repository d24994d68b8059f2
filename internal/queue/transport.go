// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Transport provides the publisher and the per-shard subscribers.
type Transport struct {
	Publisher message.Publisher
	// Subscriber returns the subscriber for one shard. Implementations may
	// return the same instance for every shard.
	Subscriber func(shard int) (message.Subscriber, error)

	closers []func() error
}

// Close releases the publisher and every subscriber handed out.
func (t *Transport) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewGoChannelTransport returns an in-process transport.
func NewGoChannelTransport(logger watermill.LoggerAdapter) *Transport {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)

	return &Transport{
		Publisher: pubSub,
		Subscriber: func(int) (message.Subscriber, error) {
			return pubSub, nil
		},
		closers: []func() error{pubSub.Close},
	}
}

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL string
	// Stream is the JetStream stream holding every shard subject.
	Stream        string
	TopicPrefix   string
	DurablePrefix string
	QueueGroup    string
	AckWait       time.Duration
	MaxDeliver    int
	CloseTimeout  time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns production defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           natsgo.DefaultURL,
		Stream:        "LEADSYNC_IMPORT",
		TopicPrefix:   DefaultConfig().TopicPrefix,
		DurablePrefix: "leadsync-import",
		QueueGroup:    "leadsync-workers",
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
		CloseTimeout:  30 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NewNATSTransport ensures the import stream exists and returns a JetStream
// transport with one durable consumer per shard.
func NewNATSTransport(ctx context.Context, cfg NATSConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	if err := ensureStream(ctx, cfg); err != nil {
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	t := &Transport{Publisher: pub, closers: []func() error{pub.Close}}
	t.Subscriber = func(shard int) (message.Subscriber, error) {
		sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
			URL:              cfg.URL,
			QueueGroupPrefix: fmt.Sprintf("%s-%d", cfg.QueueGroup, shard),
			SubscribersCount: 1,
			AckWaitTimeout:   cfg.AckWait,
			CloseTimeout:     cfg.CloseTimeout,
			NatsOptions:      natsOpts,
			Unmarshaler:      &wmNats.NATSMarshaler{},
			JetStream: wmNats.JetStreamConfig{
				AutoProvision: false,
				AckAsync:      false,
				DurablePrefix: fmt.Sprintf("%s-%d", cfg.DurablePrefix, shard),
				SubscribeOptions: []natsgo.SubOpt{
					natsgo.BindStream(cfg.Stream),
					natsgo.MaxDeliver(cfg.MaxDeliver),
					natsgo.AckWait(cfg.AckWait),
					natsgo.DeliverAll(),
				},
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create nats subscriber for shard %d: %w", shard, err)
		}
		t.closers = append(t.closers, sub.Close)
		return sub, nil
	}
	return t, nil
}

// ensureStream creates or updates the stream that captures every shard
// subject. Durable shard consumers bind to it.
func ensureStream(ctx context.Context, cfg NATSConfig) error {
	nc, err := natsgo.Connect(cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "LeadSync import rows",
		Subjects:    []string{strings.TrimSuffix(cfg.TopicPrefix, ".") + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      7 * 24 * time.Hour,
		Discard:     jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	return nil
}
