// Package patterns contains the canonical orchestration patterns shipped
// with the engine: function chaining, fan-out/fan-in, human interaction with
// a timeout, monitoring and a counter entity. They double as living
// documentation and as end-to-end test subjects.
package patterns

import (
	"github.com/petrijr/durable/pkg/api"
)

// Orchestrator, activity and entity names registered by Register.
const (
	HelloSequence = "HelloSequence"
	FanOutFanIn   = "FanOutFanIn"
	Approval      = "ApprovalWorkflow"
	MonitorJob    = "MonitorJob"
	CounterRun    = "CounterRun"

	SayHelloActivity        = "SayHello"
	RequestApprovalActivity = "RequestApproval"
	ProcessApprovalActivity = "ProcessApproval"
	EscalateActivity        = "Escalate"
	GetJobStatusActivity    = "GetJobStatus"
	SendAlertActivity       = "SendAlert"

	CounterEntity = "counter"
	JobEntity     = "job"

	// ApprovalEventName is the external event an approver raises at a
	// waiting ApprovalWorkflow instance.
	ApprovalEventName = "ApprovalEvent"
)

// Register wires every pattern into the engine. The engine handle is
// captured by the monitoring activities so they can read entity state.
func Register(eng api.Engine) error {
	registrations := []func(api.Engine) error{
		registerChaining,
		registerFanOut,
		registerApproval,
		registerMonitor,
		registerCounter,
	}
	for _, register := range registrations {
		if err := register(eng); err != nil {
			return err
		}
	}
	return nil
}
