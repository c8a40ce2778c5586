// Package analytics provides the normalized engagement event, the emitter and
// sink contracts trackers publish through, and a non-blocking hub that
// batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, event stores, or message buses.
package analytics
