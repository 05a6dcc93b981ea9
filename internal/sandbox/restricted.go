package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/pkg/logger"
)

// Restricted is the in-process fallback strategy for hosts without node.
// Candidates are screened against the deny-list before compilation, compiled
// as a single-parameter function with no host bindings, and raced against a
// short timeout via the interpreter's interrupt mechanism. A fresh runtime
// per execution means nothing leaks between candidates.
type Restricted struct {
	timeout time.Duration
	log     *logger.Logger
}

// NewRestricted creates the in-process strategy.
func NewRestricted(timeout time.Duration, log *logger.Logger) *Restricted {
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}
	return &Restricted{
		timeout: timeout,
		log:     log.WithField("component", "sandbox_restricted"),
	}
}

const interruptReason = "execution timed out"

// Execute implements Executor.
func (e *Restricted) Execute(ctx context.Context, code, statementText string, mode record.Mode) *Result {
	start := time.Now()

	if rule, match := scanDenyList(code); rule != "" {
		e.log.Warn("candidate rejected by deny-list", "rule", rule, "match", match)
		return failure(KindDenied, fmt.Sprintf("code uses forbidden construct: %s", rule), match, time.Since(start))
	}

	vm := goja.New()

	// Interrupt on timeout or caller cancellation; the watcher is always
	// stopped before returning so the runtime is released on every path.
	timer := time.AfterFunc(e.timeout, func() { vm.Interrupt(interruptReason) })
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err().Error())
		case <-watchDone:
		}
	}()

	fnVal, err := vm.RunString("(function (statementText) {\n" + code + "\n})")
	if err != nil {
		return failure(KindSyntax, fmt.Sprintf("compiling candidate: %v", err), snippetOf(code), time.Since(start))
	}

	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return failure(KindSyntax, "candidate did not compile to a function", snippetOf(code), time.Since(start))
	}

	resVal, err := fn(goja.Undefined(), vm.ToValue(statementText))
	elapsed := time.Since(start)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return failure(KindTimeout, fmt.Sprintf("execution exceeded %s", e.timeout), "", elapsed)
		}
		return failure(KindRuntime, err.Error(), "", elapsed)
	}

	exported := resVal.Export()
	items, ok := exported.([]interface{})
	if !ok {
		return failure(KindNotArray, fmt.Sprintf("parser returned %T, want array", exported), "", elapsed)
	}

	res := collect(items, mode, elapsed, e.log)
	res.Duration = time.Since(start)
	return res
}
