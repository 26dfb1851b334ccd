package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/authority"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ApprovalDecision is the answer to an approval prompt raised for a
// non-SAFE tool call (spec §4.3 step 4).
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// ApprovalCallback is asked to approve a tool call before it executes. It is
// only invoked for tools whose PermissionLevel is not SAFE, unless the
// executor is running in full-auto mode.
type ApprovalCallback func(ctx context.Context, call models.ToolCall, desc ToolDescriptor) ApprovalDecision

// PaymentGate authorizes payment-tagged tool calls (spec §4.3 step 5,
// §4.7). It is only consulted for tool names where IsPaymentTool is true.
type PaymentGate interface {
	Authorize(ctx context.Context, call models.ToolCall, tier authority.Tier) error
}

// ProtectedPathChecker decides whether a file-mutating tool call targets a
// path the executor must refuse regardless of authority tier (spec §4.3
// step 3, e.g. the registry's own config, credential stores, the binary
// itself).
type ProtectedPathChecker interface {
	// IsProtected inspects the call's raw JSON arguments and reports
	// whether it touches a protected path.
	IsProtected(call models.ToolCall) bool
}

// ProtectedPathCheckerFunc adapts a function to a ProtectedPathChecker.
type ProtectedPathCheckerFunc func(call models.ToolCall) bool

// IsProtected implements ProtectedPathChecker.
func (f ProtectedPathCheckerFunc) IsProtected(call models.ToolCall) bool {
	return f(call)
}

// ExecutorConfig controls optional dispatch gates. All fields are optional;
// a nil gate is treated as "always allow".
type ExecutorConfig struct {
	// FullAuto skips the approval prompt for non-SAFE tools (the prompt is
	// still skipped for SAFE tools regardless of this flag).
	FullAuto bool

	// ApprovalTimeout bounds how long ApprovalCallback may take before the
	// call is treated as denied.
	ApprovalTimeout time.Duration

	// ToolTimeout bounds a single tool execution (spec §4.3 "Timeouts
	// become explicit boolean timed_out in the result data").
	ToolTimeout time.Duration

	ProtectedPaths ProtectedPathChecker
	Approval       ApprovalCallback
	Payments       PaymentGate
}

const defaultToolTimeout = 30 * time.Second

// Executor implements spec §4.3's per-call dispatch: existence, authority,
// protected-path, approval, payment gates, execution with a deadline, and
// taint-wrapping post-processing — short-circuiting at the first failure.
type Executor struct {
	registry *ToolRegistry
	cfg      ExecutorConfig
}

// NewExecutor builds an Executor over a registry with the given gates.
func NewExecutor(registry *ToolRegistry, cfg ExecutorConfig) *Executor {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	return &Executor{registry: registry, cfg: cfg}
}

// Execute runs the full 7-step dispatch for one tool call and always
// returns a non-nil ToolResult (IsError=true on any gate failure), matching
// spec §4.3's "errors become structured results, never assistant-visible
// crashes".
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, tier authority.Tier) *ToolResult {
	// Step 1: existence.
	tool, desc, ok := e.registry.Get(call.Name)
	if !ok {
		return errorResult(fmt.Sprintf("tool %q is not registered", call.Name))
	}

	// Step 2: authority gate.
	if !authority.CheckToolAuthority(call.Name, tier) {
		return errorResult(fmt.Sprintf("tool %q is not permitted for this authority tier", call.Name))
	}

	// Step 3: protected-path check.
	if e.cfg.ProtectedPaths != nil && e.cfg.ProtectedPaths.IsProtected(call) {
		return errorResult(fmt.Sprintf("tool %q targets a protected path", call.Name))
	}

	// Step 4: permission prompt for non-SAFE tools.
	if desc.PermissionLevel != SAFE && !e.cfg.FullAuto {
		if e.cfg.Approval == nil {
			return errorResult(fmt.Sprintf("tool %q requires approval but no approval callback is configured", call.Name))
		}
		decision := e.requestApproval(ctx, call, desc)
		if !decision.Approved {
			reason := decision.Reason
			if reason == "" {
				reason = "denied by approval policy"
			}
			return errorResult(fmt.Sprintf("tool %q denied: %s", call.Name, reason))
		}
	}

	// Step 5: payment-specific gates.
	if IsPaymentTool(call.Name) {
		if e.cfg.Payments == nil {
			return errorResult(fmt.Sprintf("payment tool %q has no payment gate configured", call.Name))
		}
		if err := e.cfg.Payments.Authorize(ctx, call, tier); err != nil {
			return errorResult(fmt.Sprintf("payment tool %q denied: %v", call.Name, err))
		}
	}

	// Step 6: execute with a deadline.
	result, timedOut := e.run(ctx, tool, call)
	if result == nil {
		result = &ToolResult{}
	}
	result.TimedOut = timedOut

	// Step 7: post-process. External-content tools get taint-wrapped and
	// injection-scanned; every other tool's result passes through unchanged.
	if IsExternalContent(call.Name) {
		result = WrapToolResult(result)
	}
	return result
}

func (e *Executor) requestApproval(ctx context.Context, call models.ToolCall, desc ToolDescriptor) ApprovalDecision {
	if e.cfg.ApprovalTimeout <= 0 {
		return e.cfg.Approval(ctx, call, desc)
	}
	approvalCtx, cancel := context.WithTimeout(ctx, e.cfg.ApprovalTimeout)
	defer cancel()

	decisions := make(chan ApprovalDecision, 1)
	go func() {
		decisions <- e.cfg.Approval(approvalCtx, call, desc)
	}()
	select {
	case d := <-decisions:
		return d
	case <-approvalCtx.Done():
		return ApprovalDecision{Approved: false, Reason: "approval timed out"}
	}
}

func (e *Executor) run(ctx context.Context, tool Tool, call models.ToolCall) (*ToolResult, bool) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanic, r)}
			}
		}()
		params := call.Input
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		result, err := tool.Execute(runCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return errorResult(NewToolError(call.Name, o.err).Error()), false
		}
		return o.result, false
	case <-runCtx.Done():
		return errorResult(fmt.Sprintf("tool %q timed out", call.Name)), true
	}
}

func errorResult(message string) *ToolResult {
	return &ToolResult{Content: strings.TrimSpace(message), IsError: true}
}
