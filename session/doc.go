// Package session tracks the browser sessions of the web frontend.
//
// A session is identified by a random cookie and owns an output manager
// mirroring its page, a rate limiter for UI round-trips and a bag of
// element values. Sessions expire after a period of inactivity; their
// persisted values are deleted with them. A request carrying the cookie of
// an expired session gets a fresh session.
package session
