// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package threadpool

import (
	"time"

	"github.com/joeycumines/logiface"
)

// defaultPanicRates throttles the logging of panics recovered from jobs,
// per pool.
var defaultPanicRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

// options holds configuration for Pool creation.
type options struct {
	logger *logiface.Logger[logiface.Event]
	name   string
}

// Option configures a Pool instance.
type Option interface {
	applyPool(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPoolFunc func(*options) error
}

func (o *optionImpl) applyPool(opts *options) error {
	return o.applyPoolFunc(opts)
}

// WithLogger sets the logger used for diagnostics, including panics
// recovered from jobs.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithName sets the name of the pool, used in log output.
func WithName(name string) Option {
	return &optionImpl{func(opts *options) error {
		opts.name = name
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		name: `threadpool`,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
