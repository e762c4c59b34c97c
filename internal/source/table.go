package source

import (
	"log/slog"
	"net/netip"
	"sync"
)

// Table holds one Record per active source, capped at a fixed number of
// concurrent sources. Records keep their insertion order so the idle sweep
// always visits sources oldest-first; lookups go through an address index.
type Table struct {
	maxSources int
	logger     *slog.Logger

	mu      sync.RWMutex
	records []*Record                  // insertion order
	index   map[netip.AddrPort]*Record // lookup by identity
}

// NewTable creates an empty table capped at maxSources records.
func NewTable(maxSources int, logger *slog.Logger) *Table {
	return &Table{
		maxSources: maxSources,
		logger:     logger,
		index:      make(map[netip.AddrPort]*Record),
	}
}

// FindOrCreate returns the record for addr, creating it when absent. When
// the table is full it compacts once to free slots; if none open up, the
// second return value is false and the caller drops the datagram.
func (t *Table) FindOrCreate(addr netip.AddrPort) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.index[addr]; ok {
		return rec, true
	}

	if len(t.records) >= t.maxSources {
		t.compactLocked()
		if len(t.records) >= t.maxSources {
			return nil, false
		}
	}

	rec := newRecord(addr)
	t.records = append(t.records, rec)
	t.index[addr] = rec

	t.logger.Debug("New source",
		slog.String("address", rec.label),
		slog.Int("active_sources", len(t.records)),
	)

	return rec, true
}

// Snapshot returns the current records in insertion order.
func (t *Table) Snapshot() []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]*Record, len(t.records))
	copy(records, t.records)
	return records
}

// Size returns the number of records currently held.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// PendingBytes returns the total count of unflushed bytes across all records.
func (t *Table) PendingBytes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, rec := range t.records {
		total += rec.Len()
	}
	return total
}

// Compact removes every record with no pending bytes, shrinks the surviving
// buffers to their rounded size, and rebuilds the table's backing storage at
// the surviving count. It reports how many records were removed.
func (t *Table) Compact() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compactLocked()
}

func (t *Table) compactLocked() int {
	pending := 0
	for _, rec := range t.records {
		if rec.Len() > 0 {
			pending++
		}
	}
	removed := len(t.records) - pending

	// Rebuild at exact capacity; a nil slice releases the storage entirely.
	var kept []*Record
	if pending > 0 {
		kept = make([]*Record, 0, pending)
	}
	for _, rec := range t.records {
		if rec.Len() == 0 {
			continue
		}
		rec.shrink()
		kept = append(kept, rec)
	}
	t.records = kept

	// Go maps never shrink in place, so the index is rebuilt from scratch.
	t.index = make(map[netip.AddrPort]*Record, pending)
	for _, rec := range kept {
		t.index[rec.addr] = rec
	}

	if removed > 0 {
		t.logger.Debug("Compacted source table",
			slog.Int("removed", removed),
			slog.Int("remaining", len(kept)),
		)
	}
	return removed
}

// GetInfos returns a monitoring snapshot of every record in insertion order.
func (t *Table) GetInfos() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]Info, 0, len(t.records))
	for _, rec := range t.records {
		infos = append(infos, rec.GetInfo())
	}
	return infos
}
