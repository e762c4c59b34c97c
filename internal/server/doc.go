// Package server implements the UDP receive loop that buffers datagram
// payloads per source and flushes completed lines to the daily log file,
// plus the HTTP API for monitoring.
//
// Ingestion is single-threaded: one goroutine waits on the socket, sweeps
// idle sources, drains bursts and compacts the source table. Per-source
// byte order and file write order follow from that goroutine's sequencing.
package server
