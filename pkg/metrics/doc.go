// Package metrics exposes broker operation metrics to Prometheus.
//
// *Metrics implements rabbit.Observer: pass it with rabbit.WithObserver or
// let FXModule provide it. Every operation is counted and timed by
// component, operation, resource and status; payload sizes are summed and
// connection_up follows the last connect or reconnect.
package metrics
