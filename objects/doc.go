// Package objects implements the object registry: wrappers, providers,
// processors, the per-owner object cache and the accessor that routes
// client requests to them.
//
// # Objects and providers
//
// An object is identified by its owner (a provider name) and an owner
// scoped oid; "owner:oid" is its canonical reference. Providers produce a
// Wrapper for an oid; the registry builds the Object around it, calls
// Describe once and Update on every later cache hit:
//
//	type trackProvider struct{ db *sql.DB }
//
//	func (p *trackProvider) Name() string { return "music" }
//
//	func (p *trackProvider) Object(ctx context.Context, oid string) (objects.Wrapper, error) {
//		return &trackWrapper{id: oid, db: p.db}, nil
//	}
//
// Optional capabilities are discovered with type assertions: Enumerator,
// Matcher, AliasInferrer, QueryHooks and PartialEnumerator. A provider that
// cannot enumerate its objects cheaply must implement Matcher.
//
// # Processors and actions
//
// A Processor lists the actions applicable to an object in its current
// state, describes their parameters and executes them. The registry checks
// applicability before both Describe and Execute, so a stale client gets an
// invalid-action-spec failure instead of acting on the wrong state.
//
// # Queries
//
// Every client request runs inside a Query obtained from Manager.Begin.
// Providers touched by the request see exactly one OnQueryStart and one
// OnQueryEnd, which lets them share one upstream snapshot (see Snapshot)
// across all the wrappers they build for that request.
//
// Failures visible to clients are *errors.ObjectError values; anything else
// is a programmer or infrastructure error and is reported as "unknown".
package objects
