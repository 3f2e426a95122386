// Package rpcclient implements the RPC client and connection pool (C3): a
// thin wrapper over a TCP connection to the session daemon (C2) speaking
// the newline-delimited JSON protocol in internal/rpcproto, with a circuit
// breaker guarding against a daemon that has gone unresponsive.
package rpcclient
