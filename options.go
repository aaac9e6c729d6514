package datapath

import (
	"log/slog"
	"time"

	"github.com/datapath-io/datapath/auth"
)

// Option configures a Servicer.
type Option func(*Servicer)

// WithLogger sets a custom logger for the Servicer.
func WithLogger(l *slog.Logger) Option {
	return func(s *Servicer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithConfig applies servicer-wide limits from cfg.
func WithConfig(cfg Config) Option {
	return func(s *Servicer) {
		s.maxClients = cfg.maxClients()
		if cfg.QueueJoinTimeout > 0 {
			s.queueJoinTimeout = cfg.QueueJoinTimeout
		}
	}
}

// WithMaxClients overrides the derived admission threshold directly.
func WithMaxClients(n int) Option {
	return func(s *Servicer) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

// WithQueueJoinTimeout bounds how long teardown waits for the intake reader.
func WithQueueJoinTimeout(d time.Duration) Option {
	return func(s *Servicer) {
		if d > 0 {
			s.queueJoinTimeout = d
		}
	}
}

// WithAuthorizer gates every connection on a bearer-token check before
// admission. Absent an authorizer, connections are not authenticated.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(s *Servicer) { s.authorizer = a }
}

// WithShutdownHook replaces the callback invoked (under the registry lock)
// when the last client session is removed. The default shuts down the
// backend. Tests substitute a no-op and assert the invocation count.
func WithShutdownHook(fn func()) Option {
	return func(s *Servicer) { s.shutdownHook = fn }
}
