// Package server is the WebSocket transport for relaychat.
//
// It upgrades connections, assigns each one a connection id, decodes inbound
// JSON commands, hands them to the session coordinator and writes the
// resulting events back to their recipients. The coordinator never waits on
// the network: delivery happens here, outside its locks.
package server
