package rkv

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"rkv/utils/log"
)

// KvsServer The server of a key value store. It speaks RESP over TCP.
type KvsServer struct {
	engine KvsEngine

	// data is held exclusively by writing commands and shared by readers.
	data sync.RWMutex

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup

	connections atomic.Int64
	commands    atomic.Int64
}

// ServerStats counts what a server has handled since it started.
type ServerStats struct {
	Connections int64
	Commands    int64
}

func NewServer(engine KvsEngine) *KvsServer {
	return &KvsServer{
		engine: engine,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Run listens on addr and serves until Close.
func (k *KvsServer) Run(network, addr string) error {
	listen, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return k.Serve(listen)
}

// Serve accepts connections on l until Close. It always returns a non-nil
// error, ErrServerClosed after Close.
func (k *KvsServer) Serve(l net.Listener) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	k.listener = l
	k.mu.Unlock()

	log.Infof("listening on [%s]", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if k.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warnf("accept failed, %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !k.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}
		go k.process(conn)
	}
}

// Addr is the listening address, or nil before Serve.
func (k *KvsServer) Addr() net.Addr {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.listener == nil {
		return nil
	}
	return k.listener.Addr()
}

func (k *KvsServer) Stats() ServerStats {
	return ServerStats{
		Connections: k.connections.Load(),
		Commands:    k.commands.Load(),
	}
}

// Close stops accepting, drops open connections, waits for their
// handlers and shuts the engine down.
func (k *KvsServer) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	var err error
	if k.listener != nil {
		if cerr := k.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for conn := range k.conns {
		_ = conn.Close()
	}
	k.mu.Unlock()

	k.wg.Wait()
	stats := k.Stats()
	log.Infof("server closed after %d connections and %d commands", stats.Connections, stats.Commands)
	return multierr.Append(err, k.engine.Shutdown())
}

func (k *KvsServer) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

func (k *KvsServer) track(conn net.Conn) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return false
	}
	k.conns[conn] = struct{}{}
	k.wg.Add(1)
	k.connections.Inc()
	return true
}

func (k *KvsServer) untrack(conn net.Conn) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.conns, conn)
}

func (k *KvsServer) process(conn net.Conn) {
	defer k.wg.Done()
	defer k.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log.Debugf("connection from [%s] established", remote)

	engine := k.engine.Clone()
	defer func() {
		if err := engine.Shutdown(); err != nil {
			log.Warnf("release engine for [%s], %v", remote, err)
		}
	}()

	s := &session{
		server: k,
		engine: engine,
		reader: NewRespReader(conn),
		writer: NewRespWriter(conn),
	}

	for {
		args, err := s.reader.ReadCommand()
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				s.writer.WriteError("ERR Protocol error: " + strings.TrimPrefix(err.Error(), ErrProtocol.Error()+": "))
				_ = s.writer.Flush()
			} else if !errors.Is(err, io.EOF) && !k.isClosed() {
				log.Warnf("read from [%s] failed, %v", remote, err)
			}
			log.Debugf("connection from [%s] closed", remote)
			return
		}
		if len(args) == 0 {
			continue
		}

		k.commands.Inc()
		s.dispatch(args)

		// answer a pipeline with a single write
		if s.quit || s.reader.Buffered() == 0 {
			if err := s.writer.Flush(); err != nil {
				log.Warnf("send response to [%s] failed, %v", remote, err)
				return
			}
		}
		if s.quit {
			return
		}
	}
}
