package logfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Date identifies one local calendar day and names its log file.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the local calendar date of ts.
func DateOf(ts time.Time) Date {
	year, month, day := ts.Date()
	return Date{Year: year, Month: month, Day: day}
}

// FileName returns the log file name for the date, "YYYY-MM-DD.log".
func (d Date) FileName() string {
	return fmt.Sprintf("%04d-%02d-%02d.log", d.Year, int(d.Month), d.Day)
}

// Writer appends collector output to one date-named file at a time,
// switching files when the date of the flushed record changes. All output
// goes through an internal write buffer that the event loop flushes as its
// durability checkpoint.
type Writer struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	date Date // date of the file actually open
	f    *os.File
	bw   *bufio.Writer
}

// New opens today's log file in dir. Failure to open this first file is not
// recoverable and the caller should treat it as fatal.
func New(dir string, logger *slog.Logger) (*Writer, error) {
	w := &Writer{
		dir:    dir,
		logger: logger,
	}

	date := DateOf(time.Now())
	f, err := w.open(date)
	if err != nil {
		return nil, fmt.Errorf("failed to open initial log file: %w", err)
	}

	w.date = date
	w.f = f
	w.bw = bufio.NewWriter(f)

	logger.Info("Opened log file",
		slog.String("file", date.FileName()),
		slog.String("directory", dir),
	)
	return w, nil
}

func (w *Writer) open(d Date) (*os.File, error) {
	path := filepath.Join(w.dir, d.FileName())
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// SwitchTo rotates the open file to d when it differs from the current date.
// The old handle is closed only after the new one opened; a failed open
// keeps the previous file and date, so the next flushed record with the new
// date retries the switch. It reports whether a new file was opened.
func (w *Writer) SwitchTo(d Date) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if d == w.date {
		return false, nil
	}

	f, err := w.open(d)
	if err != nil {
		return false, fmt.Errorf("failed to open log file %s: %w", d.FileName(), err)
	}

	// Best-effort drain of the old file; its handle is gone after this.
	w.bw.Flush()
	w.f.Close()

	w.date = d
	w.f = f
	w.bw.Reset(f)

	w.logger.Info("Rotated log file", slog.String("file", d.FileName()))
	return true, nil
}

// WriteEntry appends one log line: the timestamp, the source label, and the
// line bytes. A terminator is appended when the bytes do not carry one.
func (w *Writer) WriteEntry(stamp, label string, line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.bw, "%s %s ", stamp, label); err != nil {
		return err
	}
	if _, err := w.bw.Write(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		return w.bw.WriteByte('\n')
	}
	return nil
}

// WriteMarker appends a bare diagnostic line with no entry prefix.
func (w *Writer) WriteMarker(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := fmt.Fprintf(w.bw, "%s\n", text)
	return err
}

// Flush pushes buffered output to the operating system. On error the write
// buffer is reset so one bad write cannot wedge all later output; whatever
// was buffered at that moment is lost, mirroring stdio error semantics.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.bw.Flush(); err != nil {
		w.bw.Reset(w.f)
		return fmt.Errorf("failed to flush log file: %w", err)
	}
	return nil
}

// Close flushes and closes the open file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	flushErr := w.bw.Flush()
	closeErr := w.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// CurrentDate returns the date of the file currently open.
func (w *Writer) CurrentDate() Date {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.date
}

// CurrentFile returns the name of the file currently open.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.date.FileName()
}
