package rkv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"rkv/utils/log"
)

// DefaultCompactionThreshold is the number of stale bytes after which the
// log files are rewritten.
const DefaultCompactionThreshold uint64 = 1024 * 1024

const lockFileName = "LOCK"

// KvStore stores string key/value pairs in log files.
//
// Log files are named after monotonically increasing generation numbers
// with a `log` extension. A map in memory stores the keys and the value
// locations for fast query. The directory is locked with a LOCK file for
// as long as any handle is open.
type KvStore struct {
	path     string
	index    *sync.Map // key -> *CommandPos
	reader   *KvStoreReader
	writer   *SyncKvStoreWriter
	refCount *atomic.Int32
	closed   atomic.Bool
}

var _ KvsEngine = (*KvStore)(nil)

type LogOption func(*KvStoreWriter)

// WithCompactionThreshold overrides DefaultCompactionThreshold.
func WithCompactionThreshold(n uint64) LogOption {
	return func(w *KvStoreWriter) {
		w.threshold = n
	}
}

// Clone shares the path, index and writer but opens its own reader.
// Every clone holds a reference; the writer and the directory lock are
// released when the last reference shuts down.
func (s *KvStore) Clone() KvsEngine {
	s.refCount.Inc()
	return &KvStore{
		path:     s.path,
		index:    s.index,
		reader:   s.reader.clone(),
		writer:   s.writer,
		refCount: s.refCount,
	}
}

// Open opens the log store in path, creating the directory if needed
// and replaying every log file into the index.
func Open(path string, opts ...LogOption) (*KvStore, error) {
	log.Infof("store path: %s", path)
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(path, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use by another process", path)
	}

	store, err := open(path, lock, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return store, nil
}

func open(path string, lock *flock.Flock, opts []LogOption) (*KvStore, error) {
	readers := make(map[uint64]*posReader)
	var index sync.Map

	genList, err := sortedGenList(path)
	if err != nil {
		return nil, err
	}

	uncompacted := uint64(0)
	curGen := uint64(1)
	for _, gen := range genList {
		f, err := os.Open(logPath(path, gen))
		if err != nil {
			return nil, err
		}
		reader, err := newPosReader(f)
		if err != nil {
			return nil, err
		}
		n, err := load(gen, reader, &index)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", logPath(path, gen), err)
		}
		uncompacted += n
		readers[gen] = reader
	}
	if len(genList) > 0 {
		curGen = genList[len(genList)-1] + 1
	}

	writer, err := newLogFile(path, curGen)
	if err != nil {
		return nil, err
	}

	r := &KvStoreReader{
		path:      path,
		safePoint: atomic.NewUint64(0),
		readers:   readers,
	}

	w := &KvStoreWriter{
		reader:      r.clone(),
		writer:      writer,
		currentGen:  curGen,
		uncompacted: uncompacted,
		threshold:   DefaultCompactionThreshold,
		path:        path,
		index:       &index,
		lock:        lock,
	}
	for _, opt := range opts {
		opt(w)
	}

	return &KvStore{
		path:     path,
		reader:   r,
		writer:   &SyncKvStoreWriter{writer: w},
		index:    &index,
		refCount: atomic.NewInt32(1),
	}, nil
}

type SyncKvStoreWriter struct {
	writer *KvStoreWriter
	lock   sync.Mutex
	stop   bool
}

func (s *SyncKvStoreWriter) set(key string, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stop {
		return ErrShutdown
	}
	return s.writer.set(key, value)
}

func (s *SyncKvStoreWriter) remove(key string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stop {
		return false, ErrShutdown
	}
	return s.writer.remove(key)
}

func (s *SyncKvStoreWriter) shutdown() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stop {
		return nil
	}
	s.stop = true
	return s.writer.shutdown()
}

func (s *KvStore) Set(key string, value string) error {
	if s.closed.Load() {
		return ErrShutdown
	}
	return s.writer.set(key, value)
}

func (s *KvStore) Get(key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrShutdown
	}
	cmdPos, ok := s.index.Load(key)
	if !ok {
		return "", false, nil
	}
	cmd, err := s.reader.readCommand(cmdPos.(*CommandPos))
	if err != nil {
		return "", false, err
	}
	if cmd.Type != CommandSet {
		return "", false, fmt.Errorf("unexpected command type %d at key %q", cmd.Type, key)
	}
	return cmd.Value, true, nil
}

func (s *KvStore) Remove(key string) (bool, error) {
	if s.closed.Load() {
		return false, ErrShutdown
	}
	return s.writer.remove(key)
}

func (s *KvStore) Keys() ([]string, error) {
	if s.closed.Load() {
		return nil, ErrShutdown
	}
	var keys []string
	s.index.Range(func(key, _ interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	return keys, nil
}

// Shutdown closes this handle's reader. The shared writer is closed once
// the reference count drops to zero.
func (s *KvStore) Shutdown() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	err := s.reader.shutdown()
	if s.refCount.Dec() == 0 {
		log.Debugf("shutdown writer of %s", s.path)
		err = multierr.Append(err, s.writer.shutdown())
	}
	return err
}

// KvStoreReader A single thread reader.
//
// Each `KvStore` handle has its own `KvStoreReader` and readers open the
// same files separately, so handles can be read concurrently from
// different goroutines.
type KvStoreReader struct {
	path      string
	safePoint *atomic.Uint64 // generation of the latest compaction file
	readers   map[uint64]*posReader
}

func (r *KvStoreReader) shutdown() error {
	var err error
	for gen, v := range r.readers {
		err = multierr.Append(err, v.file.Close())
		delete(r.readers, gen)
	}
	return err
}

// closeStaleHandles closes file handles with a generation below the safe point.
//
// The safe point is moved to the latest compaction generation once a
// compaction finishes. That generation holds every live command written
// before it, so no index entry refers to an older file.
func (r *KvStoreReader) closeStaleHandles() {
	safePoint := r.safePoint.Load()
	for gen, reader := range r.readers {
		if gen >= safePoint {
			continue
		}
		delete(r.readers, gen)
		if err := reader.file.Close(); err != nil {
			log.Warnf("close stale log %d: %v", gen, err)
		}
	}
}

// readAnd seeks to cmdPos and hands f a reader limited to the command.
func (r *KvStoreReader) readAnd(cmdPos *CommandPos, f func(reader io.Reader) error) error {
	r.closeStaleHandles()

	reader, ok := r.readers[cmdPos.Gen]
	if !ok {
		file, err := os.Open(logPath(r.path, cmdPos.Gen))
		if err != nil {
			return err
		}
		reader, err = newPosReader(file)
		if err != nil {
			return err
		}
		r.readers[cmdPos.Gen] = reader
	}
	if _, err := reader.Seek(int64(cmdPos.Pos), io.SeekStart); err != nil {
		return err
	}
	return f(io.LimitReader(reader, int64(cmdPos.Len)))
}

func (r *KvStoreReader) readCommand(cmdPos *CommandPos) (*Command, error) {
	var cmd Command
	err := r.readAnd(cmdPos, func(reader io.Reader) error {
		return json.NewDecoder(reader).Decode(&cmd)
	})
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (r *KvStoreReader) clone() *KvStoreReader {
	return &KvStoreReader{
		path:      r.path,
		safePoint: r.safePoint,
		readers:   make(map[uint64]*posReader),
	}
}

type KvStoreWriter struct {
	reader      *KvStoreReader
	writer      *posWriter
	currentGen  uint64
	uncompacted uint64 // bytes of stale commands a compaction would drop
	threshold   uint64
	path        string
	index       *sync.Map
	lock        *flock.Flock
}

func (w *KvStoreWriter) shutdown() error {
	err := w.reader.shutdown()
	err = multierr.Append(err, w.writer.close())
	err = multierr.Append(err, w.lock.Unlock())
	return err
}

func (w *KvStoreWriter) append(cmd *Command) (uint64, uint64, error) {
	pos := w.writer.pos
	if err := json.NewEncoder(w.writer).Encode(cmd); err != nil {
		return 0, 0, err
	}
	if err := w.writer.Flush(); err != nil {
		return 0, 0, err
	}
	return uint64(pos), uint64(w.writer.pos - pos), nil
}

func (w *KvStoreWriter) set(key string, value string) error {
	pos, n, err := w.append(&Command{Type: CommandSet, Key: key, Value: value})
	if err != nil {
		return err
	}

	if old, ok := w.index.Load(key); ok {
		w.uncompacted += old.(*CommandPos).Len
	}
	w.index.Store(key, &CommandPos{Gen: w.currentGen, Pos: pos, Len: n})

	return w.maybeCompact()
}

func (w *KvStoreWriter) remove(key string) (bool, error) {
	old, ok := w.index.Load(key)
	if !ok {
		return false, nil
	}
	_, n, err := w.append(&Command{Type: CommandRemove, Key: key})
	if err != nil {
		return false, err
	}

	w.index.Delete(key)
	// the remove command itself is dropped by the next compaction too
	w.uncompacted += old.(*CommandPos).Len + n

	return true, w.maybeCompact()
}

func (w *KvStoreWriter) maybeCompact() error {
	if w.uncompacted <= w.threshold {
		return nil
	}
	return w.compact()
}

// compact copies every live command into a fresh generation and removes
// the older files.
func (w *KvStoreWriter) compact() error {
	log.Debugf("compacting %s, %d stale bytes", w.path, w.uncompacted)
	compactionGen := w.currentGen + 1
	w.currentGen += 2

	newWriter, err := newLogFile(w.path, w.currentGen)
	if err != nil {
		return err
	}
	if err := w.writer.close(); err != nil {
		return err
	}
	w.writer = newWriter

	compactionWriter, err := newLogFile(w.path, compactionGen)
	if err != nil {
		return err
	}
	newPos := uint64(0)
	var rangeErr error
	w.index.Range(func(key, value interface{}) bool {
		var n int64
		rangeErr = w.reader.readAnd(value.(*CommandPos), func(reader io.Reader) error {
			var copyErr error
			n, copyErr = io.Copy(compactionWriter, reader)
			return copyErr
		})
		if rangeErr != nil {
			return false
		}
		w.index.Store(key, &CommandPos{Gen: compactionGen, Pos: newPos, Len: uint64(n)})
		newPos += uint64(n)
		return true
	})
	if rangeErr != nil {
		return multierr.Append(rangeErr, compactionWriter.close())
	}
	if err := compactionWriter.close(); err != nil {
		return err
	}

	w.reader.safePoint.Store(compactionGen)
	w.reader.closeStaleHandles()

	genList, err := sortedGenList(w.path)
	if err != nil {
		return err
	}
	for _, gen := range genList {
		if gen >= compactionGen {
			break
		}
		if err := os.Remove(logPath(w.path, gen)); err != nil {
			log.Warnf("remove stale log %d: %v", gen, err)
		}
	}
	w.uncompacted = 0
	return nil
}

func newLogFile(path string, gen uint64) (*posWriter, error) {
	f, err := os.OpenFile(logPath(path, gen), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return newPosWriter(f)
}

func sortedGenList(path string) ([]uint64, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	res := make([]uint64, 0, len(entries))
	for _, v := range entries {
		if v.IsDir() || !strings.HasSuffix(v.Name(), ".log") {
			continue
		}
		gen, err := strconv.ParseUint(strings.TrimSuffix(v.Name(), ".log"), 10, 64)
		if err == nil {
			res = append(res, gen)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res, nil
}

// load replays a whole log file into index.
//
// Returns how many bytes a compaction could drop.
func load(gen uint64, reader *posReader, index *sync.Map) (uint64, error) {
	uncompacted := uint64(0)
	pos, err := reader.Seek(0, io.SeekStart)
	if err != nil {
		return 0, err
	}
	dec := json.NewDecoder(reader)
	for {
		var cmd Command
		if err := dec.Decode(&cmd); err == io.EOF {
			return uncompacted, nil
		} else if err != nil {
			return 0, err
		}
		newPos := dec.InputOffset()
		if old, ok := index.Load(cmd.Key); ok {
			uncompacted += old.(*CommandPos).Len
		}
		switch cmd.Type {
		case CommandSet:
			index.Store(cmd.Key, &CommandPos{Gen: gen, Pos: uint64(pos), Len: uint64(newPos - pos)})
		case CommandRemove:
			index.Delete(cmd.Key)
			uncompacted += uint64(newPos - pos)
		}
		pos = newPos
	}
}

func logPath(path string, gen uint64) string {
	return filepath.Join(path, strconv.FormatUint(gen, 10)+".log")
}

// posReader tracks the offset of an unbuffered file so commands can be
// located by position.
type posReader struct {
	file *os.File
	pos  int64
}

func newPosReader(f *os.File) (*posReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &posReader{file: f}, nil
}

func (r *posReader) Read(buf []byte) (int, error) {
	n, err := r.file.Read(buf)
	r.pos += int64(n)
	return n, err
}

func (r *posReader) Seek(offset int64, whence int) (int64, error) {
	p, err := r.file.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	r.pos = p
	return p, nil
}

// posWriter is a buffered appender that knows how many bytes the file holds.
type posWriter struct {
	file   *os.File
	writer *bufio.Writer
	pos    int64
}

func newPosWriter(f *os.File) (*posWriter, error) {
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	return &posWriter{
		file:   f,
		writer: bufio.NewWriter(f),
		pos:    end,
	}, nil
}

func (w *posWriter) Write(buf []byte) (int, error) {
	n, err := w.writer.Write(buf)
	w.pos += int64(n)
	return n, err
}

func (w *posWriter) Flush() error {
	return w.writer.Flush()
}

func (w *posWriter) close() error {
	err := w.writer.Flush()
	err = multierr.Append(err, w.file.Sync())
	return multierr.Append(err, w.file.Close())
}

type CommandType = uint16

const (
	CommandSet CommandType = iota
	CommandRemove
)

// Command is one record in a log file.
type Command struct {
	Type  CommandType `json:"type"`
	Key   string      `json:"key"`
	Value string      `json:"value,omitempty"`
}

// CommandPos locates a Command: generation, byte offset and length.
type CommandPos struct {
	Gen uint64 `json:"gen"`
	Pos uint64 `json:"pos"`
	Len uint64 `json:"len"`
}
