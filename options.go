// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// PortReuse selects whether a Server's listening socket sets
// SO_REUSEPORT in addition to SO_REUSEADDR.
type PortReuse int

const (
	// NoReusePort sets only SO_REUSEADDR (the default).
	NoReusePort PortReuse = iota
	// ReusePort additionally sets SO_REUSEPORT, letting multiple processes
	// share the listen port with kernel-level load balancing.
	ReusePort
)

// --- Loop options ---

type loopOptions struct {
	logger *logiface.Logger[*izerolog.Event]
}

// LoopOption configures a Loop at construction.
type LoopOption interface {
	applyLoop(*loopOptions)
}

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoop(o *loopOptions) { f(o) }

// WithLogger installs a structured logger on the Loop. Absent this
// option, the Loop falls back to a disabled logger so it is silent by
// default. A Server, and the Acceptor and Connections it creates, take
// their logger from WithServerLogger instead.
func WithLogger(logger *logiface.Logger[*izerolog.Event]) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.logger = logger })
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{logger: disabledLogger}
	for _, opt := range opts {
		if opt != nil {
			opt.applyLoop(cfg)
		}
	}
	return cfg
}

// --- Server options ---

type serverOptions struct {
	logger             *logiface.Logger[*izerolog.Event]
	registerer         prometheus.Registerer
	highWaterMark      int
	acceptRateLimiter  *catrate.Limiter
	portReuse          PortReuse
}

// ServerOption configures a Server at construction.
type ServerOption interface {
	applyServer(*serverOptions)
}

type serverOptionFunc func(*serverOptions)

func (f serverOptionFunc) applyServer(o *serverOptions) { f(o) }

// WithServerLogger installs a structured logger on the Server and every
// Connection/Acceptor it creates.
func WithServerLogger(logger *logiface.Logger[*izerolog.Event]) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.logger = logger })
}

// WithMetricsRegisterer registers the Server's Prometheus collectors
// against registerer instead of prometheus.DefaultRegisterer.
// Registration happens once, in NewServer.
func WithMetricsRegisterer(registerer prometheus.Registerer) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.registerer = registerer })
}

// WithHighWaterMark sets the per-connection output-buffer byte threshold
// above which the high-watermark callback fires. Default 64 MiB.
func WithHighWaterMark(bytes int) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.highWaterMark = bytes })
}

// WithAcceptRateLimiter overrides the Acceptor's default EMFILE/ENFILE
// log-rate limiter.
func WithAcceptRateLimiter(limiter *catrate.Limiter) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.acceptRateLimiter = limiter })
}

// WithPortReuse selects SO_REUSEPORT behavior for the listening socket.
func WithPortReuse(reuse PortReuse) ServerOption {
	return serverOptionFunc(func(o *serverOptions) { o.portReuse = reuse })
}

const defaultHighWaterMark = 64 << 20 // 64 MiB

func resolveServerOptions(opts []ServerOption) *serverOptions {
	cfg := &serverOptions{
		logger:        disabledLogger,
		registerer:    prometheus.DefaultRegisterer,
		highWaterMark: defaultHighWaterMark,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyServer(cfg)
		}
	}
	return cfg
}
