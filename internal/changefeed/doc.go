// Package changefeed decodes and encodes change-feed records.
//
// Records carry type-tagged attribute values (see domain.AttributeValue). Decode flattens
// a record image into a domain.Message with one recursive match over the tag; Encode is
// its inverse for the supported shapes. ParseBatch reads the {"Records":[...]} envelope
// and MarshalMessage renders a message as the JSON text pushed to clients.
package changefeed
