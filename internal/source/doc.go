// Package source tracks per-sender reassembly state for the collector.
// It keeps one Record of unflushed bytes per network source in a bounded,
// insertion-ordered Table with address lookup and lazy compaction of
// drained records and oversized buffers.
package source
