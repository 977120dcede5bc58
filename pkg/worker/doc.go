// Package worker provides a generic bounded worker pool.
//
// Work is submitted without blocking: when the queue is full Submit fails
// with ErrQueueFull and the item is counted as dropped. The notification
// bridge uses a pool so that slow publishers never stall the handlers that
// emit notifications.
//
//	pool, err := worker.NewPool(2, 256, publish, worker.WithMetricsRegistry[Event](registry, "nats_bridge"))
//	if err := pool.Start(ctx); err != nil { ... }
//	defer pool.Stop(5 * time.Second)
//	_ = pool.Submit(ev)
package worker
