package httpapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noetl/noetl/internal/domain"
)

func parseExecutionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid execution id %q", raw)
	}
	return id, nil
}

// parseJobKey decodes the {key} path segment of POST /jobs/{key}/{action}
// back into a domain.JobKey. The wire form is JobKey.String()'s own
// colon-joined encoding (execution_id:step_name:attempt:loop_index); a step
// name containing a colon is not supported, matching the simple tag/name
// vocabulary every example playbook in §6 uses.
func parseJobKey(raw string) (domain.JobKey, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return domain.JobKey{}, fmt.Errorf("malformed job key %q", raw)
	}
	execID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return domain.JobKey{}, fmt.Errorf("malformed job key execution id %q", parts[0])
	}
	attempt, err := strconv.Atoi(parts[2])
	if err != nil {
		return domain.JobKey{}, fmt.Errorf("malformed job key attempt %q", parts[2])
	}
	loopIndex, err := strconv.Atoi(parts[3])
	if err != nil {
		return domain.JobKey{}, fmt.Errorf("malformed job key loop index %q", parts[3])
	}
	return domain.JobKey{ExecutionID: execID, StepName: parts[1], Attempt: attempt, LoopIndex: loopIndex}, nil
}
