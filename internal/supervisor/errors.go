package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// NotReadyError is returned when some stages did not finish setup before
// the readiness timeout. The start signal was never released.
type NotReadyError struct {
	Stages  []string
	Timeout time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("stages not ready after %s: [%s]", e.Timeout, strings.Join(e.Stages, ", "))
}

// WorkersDiedError is returned when workers terminated while the pipeline
// was running.
type WorkersDiedError struct {
	Stages []string
}

func (e *WorkersDiedError) Error() string {
	return fmt.Sprintf("workers terminated unexpectedly: [%s]", strings.Join(e.Stages, ", "))
}
