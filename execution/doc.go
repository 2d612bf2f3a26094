// Package execution validates execution requests, runs them through the
// sandbox and assembles the response record shared by every transport.
//
// Execution records carry a UUID, the start time, the elapsed wall time and
// the number of lines in the submitted code. Run never returns a partial
// record: it either returns a complete Record or an error.
//
// Usage:
//
//	svc := execution.NewService(logger, executor, registry, 30*time.Second)
//	record, err := svc.Run(ctx, "python", "print(1)")
//	var failure *execution.Failure
//	if errors.As(err, &failure) {
//	    // failure.Details() holds the executor error
//	}
package execution
