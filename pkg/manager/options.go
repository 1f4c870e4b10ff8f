package manager

import (
	"github.com/bft-labs/mgrkit/pkg/dispatch"
	"github.com/bft-labs/mgrkit/pkg/log"
)

// Option configures a Base.
type Option func(*options)

type options struct {
	id     string
	name   string
	logger log.Logger
	mode   dispatch.Mode
	raiser *dispatch.Raiser
}

func defaultOptions() options {
	return options{
		name:   "manager",
		logger: log.NewNoopLogger(),
		mode:   dispatch.DefaultMode(),
	}
}

// WithName sets the instance name used in logs, metrics and notifications.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithID sets the instance identifier. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

// WithLogger sets the logger. If not provided, a no-op logger is used.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDispatchMode sets the initial event delivery flags.
// Default: dispatch.DefaultMode() (synchronous, inline).
func WithDispatchMode(m dispatch.Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithRaiser shares a dispatcher between managers. A Base created without
// one owns a private raiser and closes it in Close; a shared raiser is
// closed by whoever created it. Asynchronous notifications keep their order
// per manager and are not ordered across managers.
func WithRaiser(r *dispatch.Raiser) Option {
	return func(o *options) {
		o.raiser = r
	}
}
