package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/kohsuke/udplogger/internal/config"
	"github.com/kohsuke/udplogger/internal/logfile"
	"github.com/kohsuke/udplogger/internal/metrics"
	"github.com/kohsuke/udplogger/internal/source"
)

// MaxDatagramSize caps how much of a single datagram is processed. Payload
// bytes beyond this are truncated by the read.
const MaxDatagramSize = 65536

// UDPServer receives log fragments over UDP and drives the flush cycle.
//
// All ingest work happens on a single event-loop goroutine: it alone touches
// record contents, the log writer and the loop-local fields below. Other
// goroutines only observe state through the mutex-guarded accessors.
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.Config
	logger  *slog.Logger
	table   *source.Table
	logw    *logfile.Writer
	metrics *metrics.Metrics

	wg sync.WaitGroup

	// Event-loop state, owned by the loop goroutine.
	reclaimDue bool
	stampUnix  int64
	stampText  string

	// Statistics
	datagramsReceived uint64
	datagramsDropped  uint64
	bytesReceived     uint64
	linesWritten      uint64
	mu                sync.RWMutex
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.Config, logger *slog.Logger, table *source.Table, logw *logfile.Writer, m *metrics.Metrics) *UDPServer {
	return &UDPServer{
		config:  cfg,
		logger:  logger,
		table:   table,
		logw:    logw,
		metrics: m,
	}
}

// Start binds the UDP socket and launches the event loop
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", s.config.Server.ListenAddress, s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	// Kernel receive queue; the per-read cap stays MaxDatagramSize.
	if err := s.conn.SetReadBuffer(s.config.Server.ReceiveBufferSize); err != nil {
		s.logger.Warn("Failed to set UDP receive buffer size",
			slog.Int("receive_buffer", s.config.Server.ReceiveBufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", addr.String()),
		slog.Int("receive_buffer", s.config.Server.ReceiveBufferSize),
		slog.Int("max_sources", s.config.Sources.MaxSources),
		slog.Int("write_buffer", s.config.Sources.WriteBufferSize),
		slog.Int("idle_timeout_seconds", s.config.Sources.IdleTimeout),
	)

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop closes the socket and waits for the event loop to flush and exit
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The loop notices the closed socket, force-flushes every record and
	// writes the shutdown marker before returning.
	s.wg.Wait()

	s.mu.RLock()
	received := s.datagramsReceived
	dropped := s.datagramsDropped
	bytesIn := s.bytesReceived
	lines := s.linesWritten
	s.mu.RUnlock()

	s.logger.Info("UDP server stopped",
		slog.Uint64("datagrams_received", received),
		slog.Uint64("datagrams_dropped", dropped),
		slog.Uint64("bytes_received", bytesIn),
		slog.Uint64("lines_written", lines),
	)

	return nil
}

// runLoop is the event loop: wait, checkpoint, sweep, drain, reclaim.
func (s *UDPServer) runLoop() {
	defer s.wg.Done()
	defer s.recoverAbort()

	buffer := make([]byte, MaxDatagramSize)

	for {
		// Wake after a second when data is pending, otherwise block
		// until the next datagram. A zero deadline means no deadline.
		var deadline time.Time
		if s.table.PendingBytes() > 0 {
			deadline = time.Now().Add(1 * time.Second)
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.flushAll("terminated by user")
				return
			}
			if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				continue
			}
			// Timeout wake: fall through with no datagram in hand.
		}

		// Durability checkpoint before this cycle's writes.
		if ferr := s.logw.Flush(); ferr != nil {
			s.metrics.RecordWriteError()
			s.logger.Warn("Failed to flush log file", slog.String("error", ferr.Error()))
		}

		now := time.Now()
		s.sweepIdle(now)

		if err == nil && n > 0 {
			s.ingest(buffer[:n], remoteAddr, now)
		}

		// Keep receiving without blocking while the wall clock still
		// shows the captured second, so a burst is absorbed in one
		// cycle and its lines share one timestamp.
		for time.Now().Unix() == now.Unix() {
			if derr := s.conn.SetReadDeadline(time.Now()); derr != nil {
				break
			}
			n, remoteAddr, err = s.conn.ReadFromUDP(buffer)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					s.flushAll("terminated by user")
					return
				}
				break
			}
			if n == 0 {
				break
			}
			s.ingest(buffer[:n], remoteAddr, now)
		}

		if s.reclaimDue {
			s.reclaimDue = false
			s.table.Compact()
			s.metrics.RecordCompaction()
		}

		s.metrics.SetActiveSources(s.table.Size())
		s.metrics.SetPendingBytes(s.table.PendingBytes())
	}
}

// ingest applies one datagram: locate or create the source record, append
// the payload, then flush whatever the new bytes made writable.
func (s *UDPServer) ingest(payload []byte, remoteAddr *net.UDPAddr, now time.Time) {
	s.metrics.RecordDatagramReceived(len(payload))
	s.mu.Lock()
	s.datagramsReceived++
	s.bytesReceived += uint64(len(payload))
	s.mu.Unlock()

	ap := remoteAddr.AddrPort()
	addr := netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	if !addr.IsValid() {
		return
	}

	rec, ok := s.table.FindOrCreate(addr)
	if !ok {
		s.metrics.RecordDatagramDropped()
		s.mu.Lock()
		s.datagramsDropped++
		s.mu.Unlock()
		s.logger.Debug("Source table full, dropping datagram",
			slog.String("remote_addr", addr.String()),
			slog.Int("datagram_size", len(payload)),
		)
		return
	}

	rec.Append(payload, now)

	if bytes.IndexByte(payload, '\n') >= 0 {
		s.flushRecord(rec, false, triggerNewline)
	}
	if rec.Len() >= s.config.Sources.WriteBufferSize {
		s.flushRecord(rec, true, triggerCapacity)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		DatagramsReceived: s.datagramsReceived,
		DatagramsDropped:  s.datagramsDropped,
		BytesReceived:     s.bytesReceived,
		LinesWritten:      s.linesWritten,
		ActiveSources:     uint64(s.table.Size()),
		PendingBytes:      uint64(s.table.PendingBytes()),
	}
}

// ServerStatistics represents server performance counters
type ServerStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsDropped  uint64 `json:"datagrams_dropped"`
	BytesReceived     uint64 `json:"bytes_received"`
	LinesWritten      uint64 `json:"lines_written"`
	ActiveSources     uint64 `json:"active_sources"`
	PendingBytes      uint64 `json:"pending_bytes"`
}
