package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/durable/pkg/api"
)

// MonitorRequest is the input of the MonitorJob orchestrator.
type MonitorRequest struct {
	JobID string
	// PollInterval defaults to 5 seconds when zero.
	PollInterval time.Duration
	// Expiry bounds how long the monitor keeps polling. Defaults to 1 hour.
	Expiry time.Duration
}

func init() {
	api.RegisterPayloadType(MonitorRequest{})
}

// registerMonitor wires the monitoring pattern: a long-running orchestration
// that polls a job's status on durable timers until the job completes or the
// monitor expires. Job status lives in a "job" entity so that the poll
// survives restarts along with everything else.
func registerMonitor(eng api.Engine) error {
	if err := eng.RegisterEntity(api.EntityDefinition{
		Name: JobEntity,
		Ops: map[string]api.EntityOp{
			"set": func(ctx api.EntityContext) error {
				ctx.SetState(ctx.Input())
				return nil
			},
			"get": func(ctx api.EntityContext) error {
				state, _ := ctx.State()
				ctx.Return(state)
				return nil
			},
		},
	}); err != nil {
		return err
	}

	// The activity reads through the engine handle; entities are the only
	// shared state a recoverable deployment has.
	getJobStatus := func(ctx context.Context, input any) (any, error) {
		jobID, ok := input.(string)
		if !ok {
			return nil, fmt.Errorf("expected a job id, got %T", input)
		}
		state, err := eng.ReadEntity(ctx, api.NewEntityID(JobEntity, jobID))
		if api.IsNotFound(err) {
			return "Pending", nil
		}
		if err != nil {
			return nil, err
		}
		return state, nil
	}

	if err := eng.RegisterActivity(GetJobStatusActivity, getJobStatus); err != nil {
		return err
	}
	if err := eng.RegisterActivity(SendAlertActivity, sendAlert); err != nil {
		return err
	}
	return eng.RegisterOrchestrator(MonitorJob, monitorJob)
}

func monitorJob(ctx api.OrchestrationContext) (any, error) {
	request, _ := ctx.Input().(MonitorRequest)

	interval := request.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	expiry := request.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	deadline := ctx.CurrentTime().Add(expiry)

	for ctx.CurrentTime().Before(deadline) {
		status, err := ctx.CallActivity(GetJobStatusActivity, request.JobID)
		if err != nil {
			return nil, err
		}
		if status == "Completed" {
			if _, err := ctx.CallActivity(SendAlertActivity, request.JobID); err != nil {
				return nil, err
			}
			return "Completed", nil
		}

		ctx.Logger().Info("job still running", "job_id", request.JobID, "status", status)
		if err := ctx.Sleep(interval); err != nil {
			return nil, err
		}
	}
	return "Expired", nil
}

func sendAlert(_ context.Context, input any) (any, error) {
	return fmt.Sprintf("alert sent for job %v", input), nil
}
