// Package logfile writes the collector's day-partitioned output files.
// It owns the open append-mode handle for the current date, formats line
// entries with their timestamp and source prefix, and rotates to a new
// date-named file driven by record timestamps rather than wall-clock polling.
package logfile
