package source

import (
	"net/netip"
	"sync"
	"time"
)

// bufferGranularity is the allocation step for per-source buffers. Growth and
// shrink both round to this size, so repeated small appends reallocate at
// amortized cost and reclaimed buffers keep a predictable footprint.
const bufferGranularity = 4096

// roundUp rounds n up to the next multiple of bufferGranularity.
func roundUp(n int) int {
	return ((n + bufferGranularity - 1) / bufferGranularity) * bufferGranularity
}

// Record accumulates the unflushed bytes of a single network source. Bytes
// stay in receipt order until the flusher drains complete lines out of them.
type Record struct {
	// Identity, immutable after creation
	addr  netip.AddrPort
	label string // precomputed "ip:port" log prefix

	// Unflushed data
	buf       []byte    // len(buf) == count of pending bytes
	firstByte time.Time // arrival of the oldest pending byte, zero when empty

	mu sync.RWMutex
}

// Info is a point-in-time view of a record for monitoring APIs.
type Info struct {
	Address       string    `json:"address"`
	PendingBytes  int       `json:"pending_bytes"`
	BufferCap     int       `json:"buffer_capacity"`
	FirstByteTime time.Time `json:"first_byte_time"`
}

// newRecord creates an empty record for the given source address.
func newRecord(addr netip.AddrPort) *Record {
	return &Record{
		addr:  addr,
		label: addr.String(),
	}
}

// Addr returns the source identity.
func (r *Record) Addr() netip.AddrPort {
	return r.addr
}

// Label returns the precomputed "ip:port" display string.
func (r *Record) Label() string {
	return r.label
}

// Append adds payload bytes to the pending buffer, stamping the arrival time
// if the buffer was empty. The allocation grows in bufferGranularity steps.
func (r *Record) Append(p []byte, now time.Time) {
	if len(p) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) == 0 {
		r.firstByte = now
	}
	if need := len(r.buf) + len(p); need > cap(r.buf) {
		grown := make([]byte, len(r.buf), roundUp(need))
		copy(grown, r.buf)
		r.buf = grown
	}
	r.buf = append(r.buf, p...)
}

// Bytes returns the pending bytes without copying. The slice aliases the
// record's buffer: only the event-loop goroutine may call this, and the
// view is invalidated by the next Append or Consume.
func (r *Record) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf
}

// Consume discards the first n pending bytes and shifts the remainder to the
// buffer front. The arrival stamp is cleared only when nothing remains.
func (r *Record) Consume(n int) {
	if n <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n >= len(r.buf) {
		r.buf = r.buf[:0]
		r.firstByte = time.Time{}
		return
	}
	kept := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:kept]
}

// Len returns the count of pending bytes.
func (r *Record) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// Cap returns the current buffer allocation size.
func (r *Record) Cap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cap(r.buf)
}

// FirstByteTime returns when the oldest pending byte arrived, or the zero
// time if nothing is pending.
func (r *Record) FirstByteTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.firstByte
}

// shrink reallocates the buffer down to the smallest granularity-rounded
// size that still fits the pending bytes.
func (r *Record) shrink() {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := roundUp(len(r.buf))
	if want >= cap(r.buf) {
		return
	}
	shrunk := make([]byte, len(r.buf), want)
	copy(shrunk, r.buf)
	r.buf = shrunk
}

// GetInfo returns the record's monitoring snapshot.
func (r *Record) GetInfo() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Info{
		Address:       r.label,
		PendingBytes:  len(r.buf),
		BufferCap:     cap(r.buf),
		FirstByteTime: r.firstByte,
	}
}
