// Package service supervises the long-running workers of the daemon.
//
// A Worker is anything with a name and a blocking Run method: the control
// socket server, the HTTP frontend, the metrics endpoint, the NATS bridge.
// The Manager runs every registered worker in an errgroup and tracks its
// state:
//
//	mgr := service.NewManager(service.WithLogger(logger), service.WithMonitor(monitor))
//	mgr.Add(ipcServer, true)
//	mgr.Add(bridge, false)
//	err := mgr.Run(ctx)
//
// Fatal workers bring the whole daemon down when they exit before
// shutdown. Best-effort workers are restarted with exponential backoff
// and only degrade the aggregate health while they are down. Panics in a
// worker are recovered and handled like errors.
//
// Each state change is recorded on the worker_status gauge and pushed to
// the health monitor.
package service
