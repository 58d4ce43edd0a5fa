// Package core contains the relay's canonical domain contracts, entities, and
// delivery orchestration logic. Stores and transport adapters must depend on
// this package; core must not depend on store-specific or transport-specific
// adapters.
//
// Delivery is driven by a claim lifecycle:
// pending -> in_flight -> delivered|pending(retry)|failed.
// Every transition out of pending or in_flight is an atomic conditional
// write, which is what keeps overlapping dispatcher runs from
// double-delivering the same event.
package core
