// Package aprilaire provides a client for communicating with Aprilaire
// home-automation-capable thermostats over TCP/IP.
//
// # Basic Usage
//
//	client, err := aprilaire.NewClient("192.168.1.60")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	control, err := client.ReadControl(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration
//
// The client can be configured using functional options:
//
//	client, err := aprilaire.NewClient("192.168.1.60",
//	    aprilaire.WithPort(8000),
//	    aprilaire.WithRequestTimeout(5*time.Second),
//	    aprilaire.WithReconnectInterval(time.Hour),
//	    aprilaire.WithLogger(slog.Default()),
//	)
//
// # Change-of-state notifications
//
// The thermostat pushes unsolicited packets when monitored parameters
// change. Subscribe delivers the changed subset of parameters as they
// arrive, and Snapshot returns the last-known state:
//
//	sub := client.Subscribe()
//	defer sub.Close()
//	for update := range sub.C {
//	    fmt.Println(update.Changed)
//	}
//
// # Protocol
//
// The thermostat exposes a framed binary protocol on TCP port 7000 by
// default and tolerates exactly one automation connection. The device is
// known to silently wedge on long-lived connections; the client works
// around this with a forced periodic reconnect (see
// WithReconnectInterval) and an idle read timeout, reconnecting with
// bounded backoff without surfacing failures to the process.
package aprilaire
