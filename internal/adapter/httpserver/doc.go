// Package httpserver is the echo HTTP surface: connection lifecycle acknowledgments,
// change-feed batch invocations, the gateway management API, the message API and
// health, version and metrics endpoints.
package httpserver
