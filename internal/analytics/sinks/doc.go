// Package sinks implements concrete analytics consumers such as Prometheus,
// repository-backed storage, message publishers, blob archives and
// structured logging. Each sink satisfies the analytics.Sink interface and is
// safe for repeated Consume/Close cycles.
package sinks
