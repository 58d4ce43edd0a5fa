// Package security implements the named secret sources the relay injects
// into its dispatcher and receiver: static maps, environment lookups, a
// TTL'd process-scoped cache, and a primary/fallback chain that supports
// secret rotation windows.
//
// Sources are plain values handed to the components that need them. Nothing
// in this package is a process global; invalidation is an explicit call, not
// a restart.
package security
