// Package nestor is a media server core: a uniform object model over
// pluggable providers and processors, served to clients over a binary
// control socket and to browsers through a server-side UI.
//
// # Layout
//
// The object layer:
//   - value: dynamically typed property values and ordered maps
//   - expr: filter expressions, their evaluation and textual form
//   - objects: providers, processors, the object cache and query scopes
//   - notify: the in-process notification bus
//   - auxstore: persisted auxiliary properties and sessions (SQLite, bbolt)
//
// The frontends:
//   - protocol: the tag/packet wire codec of the control socket
//   - ipc: the control socket server and its dialing client
//   - ui: the retained element tree and the op log replayed in browsers
//   - session: browser sessions, their UI trees and rate limits
//   - web: HTTP routes for the UI, JSON object access and event streams
//
// Infrastructure shared by all of them:
//   - config: layered JSON/YAML configuration with NESTOR_* overrides
//   - errors: classified errors and the reason codes sent to clients
//   - metric: the Prometheus registry and the metrics endpoint
//   - health: worker health aggregation
//   - service: supervision of the long-running workers
//   - natsclient: the NATS connection and the notification bridge
//   - pkg/cache, pkg/retry, pkg/worker: generic building blocks
//
// # Binaries
//
//   - cmd/nestord: the daemon
//   - cmd/nestorctl: a command line client of the control socket
//
// # Conventions
//
// Components take a *slog.Logger through a WithLogger option and default
// to slog.Default() tagged with their component name. Errors crossing
// package boundaries are wrapped with errors.Wrap and its classified
// variants; failures visible to clients carry an errors.ObjectError whose
// reason is sent as is.
package nestor
