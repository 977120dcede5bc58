// Package retry runs operations with exponential backoff.
//
// Do retries fn until it succeeds, the attempts are exhausted, the context
// is done or fn returns an error wrapped with NonRetryable:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond}, func() error {
//	    ln, err = net.Listen("tcp", addr)
//	    return err
//	})
//
// Backoff exposes the delay sequence on its own for loops that manage their
// own attempts, such as the worker supervisor restarting a crashed worker.
package retry
