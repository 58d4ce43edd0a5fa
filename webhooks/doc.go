// Package webhooks holds the inbound receive path and the outbound delivery
// transport for relay events.
//
// Inbound deliveries are verified against the raw body bytes before any JSON
// decoding, then recorded idempotently keyed on the upstream event id, so a
// replayed delivery acknowledges without creating a second pending event. The
// outbound sender emits the same envelope and signature header the receiver
// accepts, which lets one relay feed another.
package webhooks
