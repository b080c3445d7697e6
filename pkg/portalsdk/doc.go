// Package portalsdk is the client-side companion to the gatehouse service.
// It provides session credential storage with cross-context conflict
// detection, in-flight request deduplication, and connectivity-aware retry
// for portal frontends and kiosk clients.
//
// Nothing in this package is a singleton. Each context (tab, kiosk process,
// embedded webview) constructs its own SessionStore over a shared Storage
// bus; coordination happens through the storage mutation events, never
// through package-level state.
package portalsdk
