// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package poller

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// options holds configuration for Poller creation.
type options struct {
	logger         *logiface.Logger[logiface.Event]
	eventsCapacity int
}

// Option configures a Poller instance.
type Option interface {
	applyPoller(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPollerFunc func(*options) error
}

func (o *optionImpl) applyPoller(opts *options) error {
	return o.applyPollerFunc(opts)
}

// WithLogger sets the logger used for diagnostics. A nil logger, the
// default, disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithEventsCapacity sets the size of the buffers the backend uses to
// receive events from the OS. It defaults to [DefaultEventsCapacity].
func WithEventsCapacity(capacity int) Option {
	return &optionImpl{func(opts *options) error {
		if capacity <= 0 {
			return errors.New("poller: events capacity must be positive")
		}
		opts.eventsCapacity = capacity
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		eventsCapacity: DefaultEventsCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPoller(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
