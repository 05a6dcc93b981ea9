package sandbox

import (
	"time"

	"github.com/savichev/finparse/pkg/config"
	"github.com/savichev/finparse/pkg/logger"
)

// Options configures strategy selection.
type Options struct {
	Mode            string // config.SandboxAuto | SandboxIsolated | SandboxRestricted
	NodeBin         string
	IsolatedTimeout time.Duration
	LocalTimeout    time.Duration
}

// New selects an executor strategy. An unavailable isolated sandbox is a
// configuration problem, not a fatal one: the restricted in-process strategy
// takes over with a warning.
func New(opts Options, log *logger.Logger) Executor {
	if opts.Mode == config.SandboxRestricted {
		log.Info("using restricted in-process sandbox", "timeout", opts.LocalTimeout)
		return NewRestricted(opts.LocalTimeout, log)
	}

	isolated, err := NewIsolated(opts.NodeBin, opts.IsolatedTimeout, log)
	if err != nil {
		log.Warn("isolated sandbox unavailable, falling back to restricted",
			"error", err)
		return NewRestricted(opts.LocalTimeout, log)
	}

	log.Info("using isolated subprocess sandbox",
		"node_bin", opts.NodeBin, "timeout", opts.IsolatedTimeout)
	return isolated
}
