// Package generator synthesizes new parser code through a bounded
// tool-calling conversation with the model. The model writes candidate code,
// an execute tool runs it in the sandbox and reports the outcome, and the
// model reacts until it stops calling the tool or the step cap is reached.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/savichev/finparse/internal/parsercode"
	"github.com/savichev/finparse/internal/record"
	"github.com/savichev/finparse/internal/sandbox"
	apperrors "github.com/savichev/finparse/internal/shared/errors"
	"github.com/savichev/finparse/pkg/logger"
)

// DefaultMaxSteps caps tool-call round trips per generation. The counter is
// the sole termination guarantee; it never depends on model cooperation.
const DefaultMaxSteps = 8

// ToolCall is one request from the model to execute candidate code.
type ToolCall struct {
	Code           string
	DetectedFormat string
	DateFormat     string
	Confidence     float64
}

// ModelTurn is one model response. Call is nil when the model produced only
// text, which ends the loop.
type ModelTurn struct {
	Text string
	Call *ToolCall
}

// Chat is an open tool-calling session.
type Chat interface {
	// SendToolResult feeds an execution outcome back to the model and
	// returns its next turn.
	SendToolResult(ctx context.Context, result string) (*ModelTurn, error)
}

// ModelClient opens tool-enabled model sessions.
type ModelClient interface {
	// StartChat sends the generation prompt and returns the session plus
	// the model's first turn.
	StartChat(ctx context.Context, prompt string) (Chat, *ModelTurn, error)
}

// loop states; the step counter drives every transition out of the
// tool-calling cycle.
type loopState int

const (
	stateAwaitingModel loopState = iota
	stateAwaitingTool
	stateDone
	stateStepLimit
)

// Generator drives the agentic loop and persists the winning candidate.
type Generator struct {
	model    ModelClient
	exec     sandbox.Executor
	store    parsercode.Store
	maxSteps int
	log      *logger.Logger
}

// New creates a generator. maxSteps <= 0 selects DefaultMaxSteps.
func New(model ModelClient, exec sandbox.Executor, store parsercode.Store, maxSteps int, log *logger.Logger) *Generator {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Generator{
		model:    model,
		exec:     exec,
		store:    store,
		maxSteps: maxSteps,
		log:      log.WithField("component", "generator"),
	}
}

// Request describes one generation task.
type Request struct {
	BankKey       string
	Institution   string
	AccountType   string
	StatementText string
	Mode          record.Mode
	FormatHints   string
}

// Result is a successful generation: the saved entry plus the records its
// final accepted execution produced.
type Result struct {
	Entry        *parsercode.Entry
	Transactions []record.Transaction
	Holdings     []record.Holding
	InvalidCount int
	Steps        int
}

// attempt remembers an execution that produced at least one valid record.
type attempt struct {
	call ToolCall
	exec *sandbox.Result
}

// Generate runs the loop. The last execution that returned one or more
// records wins and is saved as a new version; if no attempt ever produced a
// non-empty valid result, generation fails terminally for this statement and
// nothing is cached.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	log := g.log.WithField("bank_key", req.BankKey)
	start := time.Now()

	chat, turn, err := g.model.StartChat(ctx, buildPrompt(req))
	if err != nil {
		return nil, apperrors.GenerationFailed("starting model session", err)
	}

	var lastGood *attempt
	steps := 0
	state := stateAwaitingTool

	for state == stateAwaitingTool {
		if turn.Call == nil {
			state = stateDone
			break
		}
		if steps >= g.maxSteps {
			log.Warn("generation step cap reached", "steps", steps)
			state = stateStepLimit
			break
		}
		steps++

		exec := g.exec.Execute(ctx, turn.Call.Code, req.StatementText, req.Mode)
		if exec.Err == nil && exec.RecordCount() > 0 {
			// Keep the last working attempt, not the best-scoring one.
			call := *turn.Call
			lastGood = &attempt{call: call, exec: exec}
		}
		log.Debug("tool call executed",
			"step", steps, "records", exec.RecordCount(), "invalid", exec.InvalidCount,
			"failed", exec.Err != nil)

		state = stateAwaitingModel
		turn, err = chat.SendToolResult(ctx, renderToolResult(exec))
		if err != nil {
			// Transport failure mid-loop: a working attempt is still worth
			// keeping; without one this generation is over.
			log.Warn("model session aborted", "step", steps, "error", err)
			if lastGood == nil {
				return nil, apperrors.GenerationFailed("model session aborted before any working attempt", err)
			}
			state = stateDone
			break
		}
		state = stateAwaitingTool
	}

	if lastGood == nil {
		return nil, apperrors.GenerationFailed(
			fmt.Sprintf("no attempt produced records after %d steps", steps), nil)
	}

	entry := &parsercode.Entry{
		BankKey:        req.BankKey,
		Code:           lastGood.call.Code,
		DetectedFormat: lastGood.call.DetectedFormat,
		DateFormat:     lastGood.call.DateFormat,
		Confidence:     lastGood.call.Confidence,
	}
	version, err := g.store.Save(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("saving generated parser code: %w", err)
	}
	entry.Version = version

	log.Info("generated parser code saved",
		"version", version, "steps", steps,
		"records", lastGood.exec.RecordCount(),
		"duration_ms", time.Since(start).Milliseconds())

	return &Result{
		Entry:        entry,
		Transactions: lastGood.exec.Transactions,
		Holdings:     lastGood.exec.Holdings,
		InvalidCount: lastGood.exec.InvalidCount,
		Steps:        steps,
	}, nil
}

// toolOutcome is the JSON fed back to the model after each execution.
type toolOutcome struct {
	Success         bool        `json:"success"`
	RecordCount     int         `json:"record_count"`
	InvalidCount    int         `json:"invalid_count,omitempty"`
	Sample          interface{} `json:"sample,omitempty"`
	ErrorKind       string      `json:"error_kind,omitempty"`
	Error           string      `json:"error,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
}

// renderToolResult serializes an execution result for the model, including
// error text it can react to and a small sample of accepted records.
func renderToolResult(exec *sandbox.Result) string {
	out := toolOutcome{
		Success:         exec.Err == nil,
		RecordCount:     exec.RecordCount(),
		InvalidCount:    exec.InvalidCount,
		ExecutionTimeMs: exec.ExecutionTimeMs(),
	}
	if exec.Err != nil {
		out.ErrorKind = string(exec.Err.Kind)
		out.Error = exec.Err.Error()
	}

	const sampleSize = 3
	if n := len(exec.Transactions); n > 0 {
		if n > sampleSize {
			out.Sample = exec.Transactions[:sampleSize]
		} else {
			out.Sample = exec.Transactions
		}
	} else if n := len(exec.Holdings); n > 0 {
		if n > sampleSize {
			out.Sample = exec.Holdings[:sampleSize]
		} else {
			out.Sample = exec.Holdings
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
