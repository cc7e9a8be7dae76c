package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

const rejectedByPermission = "Tool execution rejected by permission system"

// toolStep runs every requested call in order, appending the full lifecycle
// for each: Requested, the approval decision when the tool is gated, Started,
// then Completed or Failed. Tool failures never stop the step; ok=false
// reports that at least one call failed. The error return is reserved for
// store failures and cancellation while waiting for approval.
func (e *Engine) toolStep(ctx context.Context, stream string, calls []events.ToolCallRef, progress func(Progress)) (bool, error) {
	log := slog.With("stream", stream)
	if len(calls) == 0 {
		log.Warn("Tool step invoked with no tool calls")
		return true, nil
	}

	allOK := true
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		meta := events.ToolMeta{ToolID: id, ToolIndex: i}.Map()
		logTool := log.With("tool", call.Name, "tool_call_id", id)

		requested, err := events.NewToolExecutionRequested(call.Name, call.Arguments)
		if err != nil {
			return false, err
		}
		if _, err := e.store.Append(ctx, stream, requested, meta); err != nil {
			return false, fmt.Errorf("writing ToolExecutionRequested for %s: %w", call.Name, err)
		}

		approved := true
		if e.gated(call.Name) {
			approved, err = e.awaitApproval(ctx, stream, call.Name, id, meta)
			if err != nil {
				return false, err
			}
		}
		if !approved {
			allOK = false
			logTool.Warn("Tool execution rejected")
			if progress != nil {
				progress(ToolFailed{Name: call.Name, Error: rejectedByPermission})
			}
			failed, err := events.NewToolExecutionFailed(call.Name, rejectedByPermission, 0)
			if err != nil {
				return false, err
			}
			if _, err := e.store.Append(ctx, stream, failed, meta); err != nil {
				return false, fmt.Errorf("writing ToolExecutionFailed for %s: %w", call.Name, err)
			}
			continue
		}

		started, err := events.NewToolExecutionStarted(call.Name, call.Arguments)
		if err != nil {
			return false, err
		}
		if _, err := e.store.Append(ctx, stream, started, meta); err != nil {
			return false, fmt.Errorf("writing ToolExecutionStarted for %s: %w", call.Name, err)
		}
		if progress != nil {
			progress(ToolStarted{Name: call.Name})
		}

		result := e.executor.Execute(ctx, call.Name, call.Arguments)
		if result.Success {
			logTool.Info("Tool execution succeeded", "duration", result.ExecutionTime)
			if progress != nil {
				progress(ToolCompleted{Name: call.Name, Result: result.Value})
			}
			completed, err := events.NewToolExecutionCompleted(call.Name, result.Value, result.ExecutionTime.Milliseconds())
			if err != nil {
				return false, err
			}
			if _, err := e.store.Append(ctx, stream, completed, meta); err != nil {
				return false, fmt.Errorf("writing ToolExecutionCompleted for %s: %w", call.Name, err)
			}
			continue
		}

		allOK = false
		message := result.ErrorMessage
		if message == "" {
			message = "Unknown error"
		}
		logTool.Warn("Tool execution failed", "error", message, "duration", result.ExecutionTime)
		if progress != nil {
			progress(ToolFailed{Name: call.Name, Error: message})
		}
		failed, err := events.NewToolExecutionFailed(call.Name, message, 0)
		if err != nil {
			return false, err
		}
		if _, err := e.store.Append(ctx, stream, failed, meta); err != nil {
			return false, fmt.Errorf("writing ToolExecutionFailed for %s: %w", call.Name, err)
		}
	}

	log.Info("Tool step complete", "tools", len(calls), "all_ok", allOK)
	return allOK, nil
}

// gated reports whether the named tool needs an approval decision before it
// runs. Unregistered tools are not gated; they fail at execution instead.
func (e *Engine) gated(name string) bool {
	if !e.registry.Has(name) {
		return false
	}
	tool, err := e.registry.Get(name)
	if err != nil {
		return false
	}
	return tool.Permission.RequiresApproval()
}

// awaitApproval resolves the approval decision for one gated call. In
// auto-approve mode it appends the approval itself. Otherwise it polls the
// stream for a ToolExecutionApproved or ToolExecutionRejected event matching
// the call, and on timeout appends a system rejection and reports false.
func (e *Engine) awaitApproval(ctx context.Context, stream, toolName, id string, meta map[string]any) (bool, error) {
	log := slog.With("stream", stream, "tool", toolName, "tool_call_id", id)

	if e.opts.AutoApproveTools {
		approval, err := events.NewToolExecutionApproved(toolName, "auto")
		if err != nil {
			return false, err
		}
		if _, err := e.store.Append(ctx, stream, approval, meta); err != nil {
			return false, fmt.Errorf("writing ToolExecutionApproved for %s: %w", toolName, err)
		}
		log.Info("Tool execution auto-approved")
		return true, nil
	}

	log.Info("Waiting for tool approval", "timeout", e.opts.ApprovalTimeout)
	deadline := time.Now().Add(e.opts.ApprovalTimeout)
	for {
		evts, err := e.store.ReadAllStream(ctx, stream)
		if err != nil {
			return false, fmt.Errorf("polling for approval of %s: %w", toolName, err)
		}
		if decision, decided := approvalDecision(evts, toolName, id); decided {
			log.Info("Tool approval decision received", "approved", decision)
			return decision, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		if err := e.sleep(ctx, e.opts.ApprovalPollInterval); err != nil {
			return false, fmt.Errorf("approval wait interrupted: %w", err)
		}
	}

	log.Warn("Tool approval timed out, rejecting")
	rejection, err := events.NewToolExecutionRejected(toolName, "system", "Approval timeout")
	if err != nil {
		return false, err
	}
	if _, err := e.store.Append(ctx, stream, rejection, meta); err != nil {
		return false, fmt.Errorf("writing ToolExecutionRejected for %s: %w", toolName, err)
	}
	return false, nil
}

// approvalDecision scans the stream for the first approval or rejection
// matching the call, by correlation id or tool name.
func approvalDecision(evts []events.Event, toolName, id string) (approved, decided bool) {
	for _, evt := range evts {
		if evt.Type != events.TypeToolExecutionApproved && evt.Type != events.TypeToolExecutionRejected {
			continue
		}
		name, _ := evt.Data["tool_name"].(string)
		callID, _ := events.ToolCallID(evt.Metadata)
		if name != toolName && callID != id {
			continue
		}
		return evt.Type == events.TypeToolExecutionApproved, true
	}
	return false, false
}
