// Package store persists species detections.
//
// The BatchWriter accumulates detections produced by the inference stage and
// writes them to a Sink in batches, triggered by batch size or flush interval.
// A failed batch is retried on the next trigger and discarded once its retry
// budget is spent, which is reported as ErrRetriesExhausted.
//
// Three sinks are provided:
//
//	sqlite    single-file database, the default
//	postgres  shared server, one COPY per batch inside a transaction
//	badger    embedded key-value store with msgpack values
package store
