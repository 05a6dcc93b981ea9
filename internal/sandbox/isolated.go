package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/pkg/logger"
)

// Isolated runs candidate code in a separate node process. The guest gets a
// bare vm context (no require, no process, no timers, no network) and a hard
// wall-clock budget that includes interpreter startup. The child is always
// torn down: the process temp dir is removed and the process killed on
// timeout via the command context.
type Isolated struct {
	nodeBin string
	timeout time.Duration
	log     *logger.Logger
}

// NewIsolated creates the subprocess strategy. It fails when the node binary
// is not on PATH, which callers treat as a configuration problem and fall
// back to the restricted strategy.
func NewIsolated(nodeBin string, timeout time.Duration, log *logger.Logger) (*Isolated, error) {
	if nodeBin == "" {
		nodeBin = "node"
	}
	if timeout <= 0 {
		timeout = DefaultIsolatedTimeout
	}
	if _, err := exec.LookPath(nodeBin); err != nil {
		return nil, fmt.Errorf("node binary %q not available: %w", nodeBin, err)
	}
	return &Isolated{
		nodeBin: nodeBin,
		timeout: timeout,
		log:     log.WithField("component", "sandbox_isolated"),
	}, nil
}

// hostScript wraps the candidate function body. The statement text arrives on
// stdin so it never needs escaping; the candidate source is embedded as a
// JSON string literal. The guest runs inside a vm context built from a null
// prototype object carrying only value builtins, with its own inner timeout,
// and the host prints a single {ok,result|error} envelope between the
// sentinel markers.
const hostScript = `"use strict";
const vm = require("node:vm");

const chunks = [];
process.stdin.on("data", (c) => chunks.push(c));
process.stdin.on("end", () => {
	const emit = (obj) => {
		let body;
		try {
			body = JSON.stringify(obj);
		} catch (err) {
			body = JSON.stringify({ ok: false, error: "result not serializable: " + String(err) });
		}
		process.stdout.write("@BEGIN@" + body + "@END@");
	};
	try {
		const statementText = Buffer.concat(chunks).toString("utf8");
		const sandbox = Object.create(null);
		sandbox.JSON = JSON;
		sandbox.Math = Math;
		sandbox.Date = Date;
		sandbox.RegExp = RegExp;
		sandbox.String = String;
		sandbox.Number = Number;
		sandbox.Boolean = Boolean;
		sandbox.Array = Array;
		sandbox.Object = Object;
		sandbox.parseInt = parseInt;
		sandbox.parseFloat = parseFloat;
		sandbox.isNaN = isNaN;
		sandbox.isFinite = isFinite;
		sandbox.__statement_text__ = statementText;
		const context = vm.createContext(sandbox, {
			codeGeneration: { strings: false, wasm: false },
		});

		const __code__ = @CODE@;
		const src = "(function (statementText) {\n" + __code__ + "\n})(__statement_text__)";

		let script;
		try {
			script = new vm.Script(src, { filename: "parser.js" });
		} catch (err) {
			emit({ ok: false, error: String(err) });
			return;
		}

		const result = script.runInContext(context, { timeout: @TIMEOUT_MS@ });
		emit({ ok: true, result: result === undefined ? null : result });
	} catch (err) {
		emit({ ok: false, error: String(err && err.stack ? err.stack : err) });
	}
});
`

// Execute implements Executor.
func (e *Isolated) Execute(ctx context.Context, code, statementText string, mode record.Mode) *Result {
	start := time.Now()
	markers := newMarkerPair()

	script, err := renderHostScript(code, markers, e.timeout)
	if err != nil {
		return failure(KindSyntax, fmt.Sprintf("encoding candidate code: %v", err), snippetOf(code), time.Since(start))
	}

	dir, err := os.MkdirTemp("", "finparse-sandbox-")
	if err != nil {
		return failure(KindRuntime, fmt.Sprintf("creating sandbox dir: %v", err), "", time.Since(start))
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "host.js")
	if err := os.WriteFile(scriptPath, []byte(script), 0o600); err != nil {
		return failure(KindRuntime, fmt.Sprintf("writing sandbox script: %v", err), "", time.Since(start))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.nodeBin, "--no-warnings", "--max-old-space-size=256", scriptPath)
	cmd.Stdin = strings.NewReader(statementText)
	// Empty environment: the child inherits no credentials or proxy config.
	cmd.Env = []string{}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		e.log.Warn("isolated execution timed out", "timeout", e.timeout)
		return failure(KindTimeout, fmt.Sprintf("execution exceeded %s", e.timeout), "", elapsed)
	}

	payload, found := markers.extract(stdout.String())
	if !found {
		msg := "sentinel markers absent from sandbox output"
		if runErr != nil {
			msg = fmt.Sprintf("%s (node: %v)", msg, runErr)
		}
		return failure(KindMissingMarkers, msg, snippetOf(stderr.String()), elapsed)
	}

	var envelope struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return failure(KindMalformedJSON, fmt.Sprintf("parsing sandbox payload: %v", err), snippetOf(payload), elapsed)
	}

	if !envelope.OK {
		return failure(classifyGuestError(envelope.Error), envelope.Error, "", elapsed)
	}

	var raw interface{}
	if err := json.Unmarshal(envelope.Result, &raw); err != nil {
		return failure(KindMalformedJSON, fmt.Sprintf("parsing sandbox result: %v", err), snippetOf(string(envelope.Result)), elapsed)
	}

	items, ok := raw.([]interface{})
	if !ok {
		return failure(KindNotArray, fmt.Sprintf("parser returned %T, want array", raw), snippetOf(string(envelope.Result)), elapsed)
	}

	res := collect(items, mode, elapsed, e.log)
	res.Duration = time.Since(start)
	return res
}

// renderHostScript substitutes the markers, candidate code and inner timeout
// into the host script template.
func renderHostScript(code string, markers markerPair, timeout time.Duration) (string, error) {
	encoded, err := json.Marshal(code)
	if err != nil {
		return "", err
	}

	// Leave the guest a moment less than the process budget so vm timeouts
	// surface as guest errors instead of a killed child.
	inner := timeout - 2*time.Second
	if inner < time.Second {
		inner = time.Second
	}

	// The candidate source is spliced in last so its contents can never be
	// rewritten by a later placeholder substitution.
	script := hostScript
	script = strings.ReplaceAll(script, "@BEGIN@", markers.begin)
	script = strings.ReplaceAll(script, "@END@", markers.end)
	script = strings.ReplaceAll(script, "@TIMEOUT_MS@", fmt.Sprintf("%d", inner.Milliseconds()))
	script = strings.ReplaceAll(script, "@CODE@", string(encoded))
	return script, nil
}

// classifyGuestError maps a guest error string onto the failure taxonomy.
func classifyGuestError(msg string) ErrorKind {
	switch {
	case strings.Contains(msg, "SyntaxError"):
		return KindSyntax
	case strings.Contains(msg, "timed out"):
		return KindTimeout
	default:
		return KindRuntime
	}
}
