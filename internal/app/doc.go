// Package app provides the application service layer.
//
// ConnectionService turns transport lifecycle signals into registry writes.
// MessageService is the message write path that feeds the change feed.
// Both depend on domain interfaces, not concrete adapters.
package app
