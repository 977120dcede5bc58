// Package natsclient connects the notification bus of several nestor
// processes through NATS.
//
// Client wraps a nats.go connection with retried connects, a circuit
// breaker that fails fast after repeated failures, and status reporting.
// Published messages carry the id of their process in the Nestor-Origin
// header.
//
// Bridge observes every notification of a notify.Bus and publishes it to
// <prefix>.<name> with the object reference as payload. It subscribes to
// <prefix>.> and delivers messages from other origins back on the bus,
// marked with their origin so that they are not forwarded again:
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bridge, err := natsclient.NewBridge(bus, client)
//	if err != nil {
//	    return err
//	}
//	return bridge.Run(ctx)
//
// Publishing happens on a small worker pool so that notifying never blocks
// on the network. A full queue drops the notification with a warning.
package natsclient
