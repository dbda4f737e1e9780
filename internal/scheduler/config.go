package scheduler

// FaultPolicy decides what happens to a tick-driven task whose run fails.
type FaultPolicy string

const (
	// LogAndContinue logs the fault; one-shot tasks finish and repeating
	// tasks keep their schedule.
	LogAndContinue FaultPolicy = "log_and_continue"
	// AbortTask cancels a repeating task after its first fault.
	AbortTask FaultPolicy = "abort_task"
	// RetryOnce reruns a failed task on the next tick, then aborts it if the
	// retry fails as well.
	RetryOnce FaultPolicy = "retry_once"
)

// Config tunes the scheduler.
type Config struct {
	// SyncBatchSize caps how many queued RunSync tasks run per tick.
	SyncBatchSize int
	// AsyncWorkers bounds concurrently running RunAsync tasks.
	AsyncWorkers int64
	FaultPolicy  FaultPolicy
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		SyncBatchSize: 100,
		AsyncWorkers:  4,
		FaultPolicy:   LogAndContinue,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.SyncBatchSize <= 0 {
		c.SyncBatchSize = def.SyncBatchSize
	}
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = def.AsyncWorkers
	}
	switch c.FaultPolicy {
	case LogAndContinue, AbortTask, RetryOnce:
	default:
		c.FaultPolicy = def.FaultPolicy
	}
	return c
}
