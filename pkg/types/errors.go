package types

import "errors"

// Scheduling and execution errors. Callers match with errors.Is; wrapped
// variants carry the offending id or cause via fmt.Errorf("...: %w", ...).
var (
	ErrJobNotFound                = errors.New("job not found")
	ErrTaskNotFound               = errors.New("task not found")
	ErrNodeNotFound               = errors.New("node not found")
	ErrGroupNotFound              = errors.New("job group not found")
	ErrSchedulingFailed           = errors.New("scheduling failed")
	ErrExecutionFailed            = errors.New("execution failed")
	ErrCancellationFailed         = errors.New("cancellation failed")
	ErrTooManyRunningJobs         = errors.New("too many running jobs")
	ErrProcessStartFailed         = errors.New("process start failed")
	ErrProcessCommunicationFailed = errors.New("process communication failed")
	ErrTimeout                    = errors.New("timed out")
	ErrResourceLimitReached       = errors.New("resource limit reached")
	ErrPermissionDenied           = errors.New("permission denied")
)
