package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/kohsuke/udplogger/internal/logfile"
	"github.com/kohsuke/udplogger/internal/source"
)

// Flush triggers, used as the metrics label.
const (
	triggerNewline  = "newline"
	triggerCapacity = "capacity"
	triggerTimeout  = "timeout"
	triggerShutdown = "shutdown"
)

// stamp formats ts for log entries. Flushes cluster inside one wall-clock
// second, so the formatted text is cached by Unix second.
func (s *UDPServer) stamp(ts time.Time) string {
	if u := ts.Unix(); u != s.stampUnix || s.stampText == "" {
		s.stampUnix = u
		s.stampText = ts.Format("2006-01-02 15:04:05")
	}
	return s.stampText
}

// flushRecord writes the record's complete lines to the log file, or the
// whole buffer when force is set. Consumed bytes leave the record. The
// entry timestamp is the arrival time of the record's oldest pending byte,
// and it also decides which daily file the entries land in.
func (s *UDPServer) flushRecord(rec *source.Record, force bool, trigger string) {
	if rec.Len() == 0 {
		return
	}

	ts := rec.FirstByteTime()

	rotated, err := s.logw.SwitchTo(logfile.DateOf(ts))
	if err != nil {
		s.metrics.RecordRotationError()
		s.logger.Warn("Failed to rotate log file", slog.String("error", err.Error()))
	}
	if rotated {
		// Rotation doubles as the periodic cue to shed table slack.
		s.reclaimDue = true
		s.metrics.RecordRotation()
	}

	stampText := s.stamp(ts)
	label := rec.Label()
	data := rec.Bytes()

	consumed := 0
	lines := 0
	for {
		i := bytes.IndexByte(data[consumed:], '\n')
		if i < 0 {
			break
		}
		if werr := s.logw.WriteEntry(stampText, label, data[consumed:consumed+i]); werr != nil {
			s.metrics.RecordWriteError()
			s.logger.Error("Failed to write log entry",
				slog.String("source", label),
				slog.String("error", werr.Error()),
			)
		}
		consumed += i + 1
		lines++
	}

	if force && consumed < len(data) {
		// Unterminated remainder goes out as a line of its own.
		if werr := s.logw.WriteEntry(stampText, label, data[consumed:]); werr != nil {
			s.metrics.RecordWriteError()
			s.logger.Error("Failed to write log entry",
				slog.String("source", label),
				slog.String("error", werr.Error()),
			)
		}
		consumed = len(data)
		lines++
	}

	if consumed == 0 {
		return
	}

	rec.Consume(consumed)

	s.metrics.RecordFlush(trigger)
	s.metrics.RecordLinesWritten(lines)
	s.mu.Lock()
	s.linesWritten += uint64(lines)
	s.mu.Unlock()
}

// sweepIdle force-flushes every record whose oldest pending byte has been
// waiting at least the configured idle timeout.
func (s *UDPServer) sweepIdle(now time.Time) {
	cutoff := now.Add(-s.config.Sources.GetIdleTimeoutDuration())
	for _, rec := range s.table.Snapshot() {
		if rec.Len() == 0 {
			continue
		}
		if rec.FirstByteTime().After(cutoff) {
			continue
		}
		s.flushRecord(rec, true, triggerTimeout)
	}
}

// flushAll force-flushes every pending record, appends the diagnostic
// marker line and pushes everything to the OS. Runs on shutdown and on the
// abort path.
func (s *UDPServer) flushAll(reason string) {
	for _, rec := range s.table.Snapshot() {
		s.flushRecord(rec, true, triggerShutdown)
	}
	if err := s.logw.WriteMarker(fmt.Sprintf("[aborted due to %s]", reason)); err != nil {
		s.metrics.RecordWriteError()
		s.logger.Error("Failed to write abort marker", slog.String("error", err.Error()))
	}
	if err := s.logw.Flush(); err != nil {
		s.metrics.RecordWriteError()
		s.logger.Error("Failed to flush log file", slog.String("error", err.Error()))
	}
}

// recoverAbort is the event loop's last line of defense: salvage whatever
// is buffered, mark the log, terminate.
func (s *UDPServer) recoverAbort() {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("Event loop panic",
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	s.flushAll("internal error")
	os.Exit(1)
}
