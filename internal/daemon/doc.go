// Package daemon implements the session daemon (C2): a long-running
// process that holds one upstream session per credential and serves the
// newline-delimited JSON-RPC protocol described in internal/rpcproto over
// a TCP listener.
package daemon
