package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/durable/pkg/api"
)

// DefaultApprovalTimeout is how long an ApprovalWorkflow instance waits for
// an approver before escalating.
const DefaultApprovalTimeout = 72 * time.Hour

// ApprovalRequest is the input of the ApprovalWorkflow orchestrator.
type ApprovalRequest struct {
	Subject string
	// Timeout overrides DefaultApprovalTimeout when positive.
	Timeout time.Duration
}

// ApprovalDecision is the payload an approver raises as the ApprovalEvent.
type ApprovalDecision struct {
	Approved bool
	Approver string
}

func init() {
	api.RegisterPayloadType(ApprovalRequest{})
	api.RegisterPayloadType(ApprovalDecision{})
}

// registerApproval wires the human-interaction pattern: notify an approver,
// then race their decision against a durable timeout. The decision path
// cancels the timer; the timeout path escalates.
func registerApproval(eng api.Engine) error {
	if err := eng.RegisterActivity(RequestApprovalActivity, requestApproval); err != nil {
		return err
	}
	if err := eng.RegisterActivity(ProcessApprovalActivity, processApproval); err != nil {
		return err
	}
	if err := eng.RegisterActivity(EscalateActivity, escalate); err != nil {
		return err
	}
	return eng.RegisterOrchestrator(Approval, approvalWorkflow)
}

func approvalWorkflow(ctx api.OrchestrationContext) (any, error) {
	request, _ := ctx.Input().(ApprovalRequest)

	if _, err := ctx.CallActivity(RequestApprovalActivity, request.Subject); err != nil {
		return nil, err
	}

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}

	deadline := ctx.CreateTimer(ctx.CurrentTime().Add(timeout))
	approval := ctx.ExternalEvent(ApprovalEventName)

	winner, err := ctx.WhenAny(approval, deadline)
	if err != nil {
		return nil, err
	}

	if winner == approval {
		if err := ctx.CancelTimer(deadline); err != nil {
			return nil, err
		}
		decision, err := approval.Await()
		if err != nil {
			return nil, err
		}
		return ctx.CallActivity(ProcessApprovalActivity, decision)
	}

	return ctx.CallActivity(EscalateActivity, request.Subject)
}

func requestApproval(_ context.Context, input any) (any, error) {
	// Stand-in for paging an approver (mail, chat webhook, ticket).
	return fmt.Sprintf("approval requested for %v", input), nil
}

func processApproval(_ context.Context, input any) (any, error) {
	decision, ok := input.(ApprovalDecision)
	if !ok {
		return nil, fmt.Errorf("expected an ApprovalDecision, got %T", input)
	}
	if decision.Approved {
		return fmt.Sprintf("approved by %s", decision.Approver), nil
	}
	return fmt.Sprintf("rejected by %s", decision.Approver), nil
}

func escalate(_ context.Context, input any) (any, error) {
	return fmt.Sprintf("escalated: no decision for %v", input), nil
}
