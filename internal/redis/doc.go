// Package redis adapts Redis pub/sub to the relay's bus contract.
//
// Bus opens one dedicated connection per subscription so a failed cycle can be
// torn down and rebuilt from scratch. Client is a long-lived handle for health
// checks and publishing. Both report command metrics through MetricsHook.
package redis
