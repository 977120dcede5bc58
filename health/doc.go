// Package health tracks the health of the daemon's workers.
//
// A Status is healthy, degraded or unhealthy, with a message, a timestamp
// and optional sub-statuses. FromWorker maps the state of a supervised
// worker to a Status, removing URLs, paths, addresses and credentials from
// error messages. Monitor keeps the latest Status per component and serves
// the aggregate over HTTP:
//
//	monitor := health.NewMonitor()
//	monitor.Update("ipc", health.NewHealthy("ipc", "listening"))
//	mux.Handle("/health", monitor.Handler("nestord"))
//
// The aggregate is unhealthy as soon as one component is, degraded when
// one is degraded, and healthy otherwise.
package health
