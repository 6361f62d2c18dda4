// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (connection.go, changefeed.go, message.go, delivery.go, errors.go)
// hold shared types and cross-cutting interfaces. No implementation code - just contracts.
// Keeps interfaces on the consumer side and prevents circular imports between adapters.
package domain
