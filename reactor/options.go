// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"time"

	"github.com/joeycumines/go-reactor/poller"
	"github.com/joeycumines/logiface"
)

// defaultErrorRates throttles the logging of errors swallowed by
// [Reactor.Tick].
var defaultErrorRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// options holds configuration for Reactor creation.
type options struct {
	logger         *logiface.Logger[logiface.Event]
	poller         *poller.Poller
	eventsCapacity int
	errorRates     map[time.Duration]int
}

// Option configures a Reactor instance.
type Option interface {
	applyReactor(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyReactorFunc func(*options) error
}

func (o *optionImpl) applyReactor(opts *options) error {
	return o.applyReactorFunc(opts)
}

// WithLogger sets the logger used for diagnostics. It is also passed to the
// poller, unless one is provided via [WithPoller].
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithPoller uses an existing poller, which the reactor takes ownership of,
// closing it on [Reactor.Close].
func WithPoller(p *poller.Poller) Option {
	return &optionImpl{func(opts *options) error {
		if p == nil {
			return errors.New("reactor: nil poller")
		}
		opts.poller = p
		return nil
	}}
}

// WithEventsCapacity sets the number of events received per wait.
func WithEventsCapacity(capacity int) Option {
	return &optionImpl{func(opts *options) error {
		if capacity <= 0 {
			return errors.New("reactor: events capacity must be positive")
		}
		opts.eventsCapacity = capacity
		return nil
	}}
}

// WithErrorRates sets the rates, per window, at which errors swallowed by
// [Reactor.Tick] are logged. An empty map disables throttling.
func WithErrorRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *options) error {
		for window, count := range rates {
			if window <= 0 || count <= 0 {
				return errors.New("reactor: invalid error rates")
			}
		}
		opts.errorRates = rates
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		eventsCapacity: poller.DefaultEventsCapacity,
		errorRates:     defaultErrorRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
