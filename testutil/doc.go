// Package testutil holds fixtures shared by package tests.
//
// MemProvider is an enumerable in-memory object provider and
// NewMediaProvider fills one with a small track library. PlayerProcessor
// exposes state dependent actions with typed parameters, one of which
// completes asynchronously. MockWorker is a supervised worker with a
// scriptable body. MockTransport is an in-memory natsclient.Transport with
// NATS wildcard matching, so that several bridges can be wired together
// without a server:
//
//	tr := testutil.NewMockTransport()
//	a, _ := natsclient.NewBridge(busA, tr)
//	b, _ := natsclient.NewBridge(busB, tr)
//
// Tests needing a real NATS server use natsclient.NewTestServer instead.
package testutil
