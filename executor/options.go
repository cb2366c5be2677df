// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"errors"

	"github.com/joeycumines/go-reactor/reactor"
	"github.com/joeycumines/go-reactor/threadpool"
	"github.com/joeycumines/logiface"
)

// options holds configuration for Executor creation.
type options struct {
	logger  *logiface.Logger[logiface.Event]
	reactor *reactor.Reactor
	pool    *threadpool.Pool
}

// Option configures an Executor instance.
type Option interface {
	applyExecutor(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyExecutorFunc func(*options) error
}

func (o *optionImpl) applyExecutor(opts *options) error {
	return o.applyExecutorFunc(opts)
}

// WithLogger sets the logger used for diagnostics, including panics
// recovered from tasks. It is also passed to the reactor, unless one is
// provided via [WithReactor].
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithReactor drives an existing reactor, which the executor does not
// close. By default, the executor creates and owns one.
func WithReactor(r *reactor.Reactor) Option {
	return &optionImpl{func(opts *options) error {
		if r == nil {
			return errors.New("executor: nil reactor")
		}
		opts.reactor = r
		return nil
	}}
}

// WithThreadPool sets the pool used by [SpawnBlocking]. It defaults to
// [threadpool.Shared].
func WithThreadPool(p *threadpool.Pool) Option {
	return &optionImpl{func(opts *options) error {
		if p == nil {
			return errors.New("executor: nil thread pool")
		}
		opts.pool = p
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
