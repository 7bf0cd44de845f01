package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"pitrdb/pkg/encoding"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

const fileName = "oplog.wal"

var ErrClosed = errors.New("WAL is closed")

// WAL is the local durable oplog. Records are appended in GTID order and
// replayed on startup to rebuild queryable state.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
	// end of the last complete record; appends start here
	size int64

	last    oplog.Entry
	hasLast bool
}

// New opens (or creates) the journal in dir and scans it for the last entry.
func New(dir string) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dir, fileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
	}

	if err := w.scanForLast(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	return w, nil
}

// Append writes entries to the journal. The buffered writer is always flushed
// to the OS; the file is fsynced only when sync is set. Either all entries are
// appended or, on error, the journal is left as it was.
func (w *WAL) Append(entries []oplog.Entry, sync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return ErrClosed
	}

	var (
		buf     bytes.Buffer
		last    = w.last
		hasLast = w.hasLast
	)
	for _, e := range entries {
		if hasLast && !last.GTID.Less(e.GTID) {
			return fmt.Errorf("out of order append: %s after %s", e.GTID, last.GTID)
		}
		if err := encodeEntry(&buf, e); err != nil {
			return fmt.Errorf("failed to encode WAL entry %s: %w", e.GTID, err)
		}
		last, hasLast = e, true
	}
	if buf.Len() == 0 {
		return nil
	}

	if _, err := w.writer.Write(buf.Bytes()); err != nil {
		return w.rollback(fmt.Errorf("failed to write WAL entries: %w", err))
	}
	if err := w.writer.Flush(); err != nil {
		return w.rollback(fmt.Errorf("failed to flush WAL: %w", err))
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return w.rollback(fmt.Errorf("failed to sync WAL: %w", err))
		}
	}

	w.size += int64(buf.Len())
	w.last, w.hasLast = last, hasLast
	return nil
}

// rollback drops whatever part of a failed append reached the buffer or the file.
func (w *WAL) rollback(cause error) error {
	w.writer.Reset(w.file)
	if err := w.file.Truncate(w.size); err != nil {
		return fmt.Errorf("%w (truncate back to %d: %v)", cause, w.size, err)
	}
	return cause
}

// Sync forces written entries to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	return w.file.Sync()
}

// Last returns the newest entry in the journal.
func (w *WAL) Last() (oplog.Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.hasLast
}

// Replay calls callback for every entry whose GTID is >= from, in log order.
func (w *WAL) Replay(from types.GTID, callback func(oplog.Entry) error) error {
	w.mu.Lock()
	if w.writer == nil {
		w.mu.Unlock()
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}
	w.mu.Unlock()

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	for {
		entry, err := readEntry(reader)
		if err != nil {
			if isEndOfLog(err) {
				return nil
			}
			return fmt.Errorf("failed to read WAL entry: %w", err)
		}
		if entry.GTID.Less(from) {
			continue
		}
		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			slog.Warn("failed to sync WAL on close", "error", err)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}

	return nil
}

// encodeEntry layout: primary(8) secondary(8) ts(8) hash(8) refLen(4) ref payloadLen(4) payload.
// The payload is the Avro form of the ops.
func encodeEntry(buf *bytes.Buffer, entry oplog.Entry) error {
	payload, err := encoding.EncodeOps(nil, entry.Ops)
	if err != nil {
		return err
	}

	for _, v := range []uint64{entry.GTID.Primary, entry.GTID.Secondary, entry.TS, entry.Hash} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := writeChunk(buf, []byte(entry.Ref)); err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	if err := writeChunk(buf, payload); err != nil {
		return fmt.Errorf("ops: %w", err)
	}
	return nil
}

func writeChunk(wr io.Writer, b []byte) error {
	if len(b) > math.MaxUint32 {
		return fmt.Errorf("chunk too large: %d", len(b))
	}
	if err := binary.Write(wr, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := wr.Write(b)
	return err
}

func readEntry(reader io.Reader) (oplog.Entry, error) {
	var entry oplog.Entry

	if err := binary.Read(reader, binary.LittleEndian, &entry.GTID.Primary); err != nil {
		return entry, err
	}
	for _, v := range []*uint64{&entry.GTID.Secondary, &entry.TS, &entry.Hash} {
		if err := binary.Read(reader, binary.LittleEndian, v); err != nil {
			return entry, truncated(err)
		}
	}

	ref, err := readChunk(reader)
	if err != nil {
		return entry, truncated(err)
	}
	entry.Ref = string(ref)

	payload, err := readChunk(reader)
	if err != nil {
		return entry, truncated(err)
	}
	if entry.Ops, err = encoding.DecodeOps(payload); err != nil {
		return entry, fmt.Errorf("%s: %w", entry.GTID, err)
	}

	return entry, nil
}

func readChunk(reader io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(reader, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// A record cut short by a crash mid-write reads as end of log.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func isEndOfLog(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// scanForLast finds the last complete record. A torn record left by a crash
// mid-write is cut off, so that later appends follow the last good record.
func (w *WAL) scanForLast() error {
	stat, err := w.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() == 0 {
		return nil
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := &countingReader{r: bufio.NewReader(file)}
	for {
		entry, err := readEntry(reader)
		if err != nil {
			if !isEndOfLog(err) {
				return err
			}
			break
		}
		w.last, w.hasLast = entry, true
		w.size = reader.n
	}

	if w.size < stat.Size() {
		slog.Warn("truncating torn WAL tail", "file", w.filePath, "size", stat.Size(), "keep", w.size)
		if err := w.file.Truncate(w.size); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync after truncate: %w", err)
		}
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
