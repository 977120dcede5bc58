// Package cache provides generic, thread-safe key/value caches.
//
// Two flavours are available:
//   - NewSimple: entries live until deleted (the object cache, keyed by oid)
//   - NewTTL: entries expire after an idle window; Set and Touch restart the
//     window (web sessions)
//
// Every cache keeps Statistics. WithMetrics additionally exports them as
// Prometheus metrics labelled with a component name, and
// WithEvictionCallback observes deletions and expirations:
//
//	sessions, err := cache.NewTTL[*Session](ctx, 30*time.Minute, time.Minute,
//	    cache.WithMetrics[*Session](registry, "sessions"),
//	    cache.WithEvictionCallback(func(id string, s *Session) { s.close() }),
//	)
package cache
