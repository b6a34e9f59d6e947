package rkv

import (
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"rkv/utils/log"
)

// session is the per-connection state a command runs against.
type session struct {
	server *KvsServer
	engine KvsEngine
	reader *RespReader
	writer *RespWriter
	quit   bool
}

// reply writes a computed result. Replies run after the data lock is
// released, so a client that stops reading only blocks its own connection.
type reply func(w *RespWriter)

func simpleReply(s string) reply { return func(w *RespWriter) { w.WriteSimple(s) } }

func errorReply(msg string) reply { return func(w *RespWriter) { w.WriteError(msg) } }

func intReply(n int64) reply { return func(w *RespWriter) { w.WriteInt(n) } }

func bulkReply(v string) reply { return func(w *RespWriter) { w.WriteBulk(v) } }

func arrayReply(vs []string) reply { return func(w *RespWriter) { w.WriteArray(vs) } }

func nullReply(w *RespWriter) { w.WriteNull() }

type command struct {
	// arity counts the command name. A negative arity means "at least".
	arity int
	// write commands hold the server's data lock exclusively.
	write bool
	fn    func(s *session, args []string) reply
}

var commandTable = map[string]command{
	"get":      {arity: 2, fn: getCommand},
	"set":      {arity: -3, write: true, fn: setCommand},
	"del":      {arity: -2, write: true, fn: delCommand},
	"exists":   {arity: -2, fn: existsCommand},
	"keys":     {arity: 2, fn: keysCommand},
	"incr":     {arity: 2, write: true, fn: incrCommand},
	"decr":     {arity: 2, write: true, fn: decrCommand},
	"dbsize":   {arity: 1, fn: dbsizeCommand},
	"flushall": {arity: -1, write: true, fn: flushCommand},
	"flushdb":  {arity: -1, write: true, fn: flushCommand},
	"ping":     {arity: -1, fn: pingCommand},
	"echo":     {arity: 2, fn: echoCommand},
	"select":   {arity: 2, fn: selectCommand},
	"command":  {arity: -1, fn: okCommand},
	"client":   {arity: -1, fn: okCommand},
	"quit":     {arity: -1, fn: quitCommand},
}

// dispatch runs one request and buffers its reply.
func (s *session) dispatch(args []string) {
	name := strings.ToLower(args[0])
	cmd, ok := commandTable[name]
	if !ok {
		s.writer.WriteError(unknownCommandMessage(args))
		return
	}
	if (cmd.arity > 0 && len(args) != cmd.arity) || (cmd.arity < 0 && len(args) < -cmd.arity) {
		s.writer.WriteError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
		return
	}

	s.execute(cmd, args)(s.writer)
}

// execute holds the data lock only while the engine is consulted.
func (s *session) execute(cmd command, args []string) reply {
	if cmd.write {
		s.server.data.Lock()
		defer s.server.data.Unlock()
	} else {
		s.server.data.RLock()
		defer s.server.data.RUnlock()
	}
	return cmd.fn(s, args)
}

func unknownCommandMessage(args []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ERR unknown command '%s', with args beginning with: ", args[0])
	for _, arg := range args[1:] {
		fmt.Fprintf(&b, "'%s' ", arg)
	}
	return b.String()
}

func engineError(op string, err error) reply {
	log.Errorf("%s failed, %v", op, err)
	return errorReply("ERR " + err.Error())
}

func getCommand(s *session, args []string) reply {
	v, found, err := s.engine.Get(args[1])
	if err != nil {
		return engineError("get", err)
	}
	if !found {
		return nullReply
	}
	return bulkReply(v)
}

func setCommand(s *session, args []string) reply {
	if len(args) > 3 {
		return errorReply("ERR syntax error")
	}
	if err := s.engine.Set(args[1], args[2]); err != nil {
		return engineError("set", err)
	}
	return simpleReply("OK")
}

func delCommand(s *session, args []string) reply {
	var removed int64
	for _, key := range args[1:] {
		ok, err := s.engine.Remove(key)
		if err != nil {
			return engineError("del", err)
		}
		if ok {
			removed++
		}
	}
	return intReply(removed)
}

// existsCommand counts a key once per time it is named.
func existsCommand(s *session, args []string) reply {
	var count int64
	for _, key := range args[1:] {
		_, found, err := s.engine.Get(key)
		if err != nil {
			return engineError("exists", err)
		}
		if found {
			count++
		}
	}
	return intReply(count)
}

// keysCommand matches glob-style patterns: '*', '?' and '[...]' classes.
func keysCommand(s *session, args []string) reply {
	keys, err := s.engine.Keys()
	if err != nil {
		return engineError("keys", err)
	}
	pattern := args[1]
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	return arrayReply(matched)
}

func incrCommand(s *session, args []string) reply {
	return s.incrBy(args[1], 1)
}

func decrCommand(s *session, args []string) reply {
	return s.incrBy(args[1], -1)
}

// incrBy treats a missing key as 0 and stores the result in decimal.
func (s *session) incrBy(key string, delta int64) reply {
	n, err := incrementValue(s.engine, key, delta)
	if err != nil {
		if errors.Is(err, ErrNotInteger) || errors.Is(err, ErrOverflow) {
			return errorReply("ERR " + err.Error())
		}
		return engineError("incr", err)
	}
	return intReply(n)
}

func incrementValue(engine KvsEngine, key string, delta int64) (int64, error) {
	v, found, err := engine.Get(key)
	if err != nil {
		return 0, err
	}
	var current int64
	if found {
		current, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	current += delta
	if err := engine.Set(key, strconv.FormatInt(current, 10)); err != nil {
		return 0, err
	}
	return current, nil
}

func dbsizeCommand(s *session, _ []string) reply {
	keys, err := s.engine.Keys()
	if err != nil {
		return engineError("dbsize", err)
	}
	return intReply(int64(len(keys)))
}

func flushCommand(s *session, _ []string) reply {
	keys, err := s.engine.Keys()
	if err != nil {
		return engineError("flush", err)
	}
	for _, key := range keys {
		if _, err := s.engine.Remove(key); err != nil {
			return engineError("flush", err)
		}
	}
	return simpleReply("OK")
}

func pingCommand(s *session, args []string) reply {
	switch len(args) {
	case 1:
		return simpleReply("PONG")
	case 2:
		return bulkReply(args[1])
	default:
		return errorReply("ERR wrong number of arguments for 'ping' command")
	}
}

func echoCommand(s *session, args []string) reply {
	return bulkReply(args[1])
}

// selectCommand accepts only database 0, the one database this server has.
func selectCommand(s *session, args []string) reply {
	db, err := strconv.Atoi(args[1])
	if err != nil {
		return errorReply("ERR " + ErrNotInteger.Error())
	}
	if db != 0 {
		return errorReply("ERR DB index is out of range")
	}
	return simpleReply("OK")
}

func okCommand(s *session, _ []string) reply {
	return simpleReply("OK")
}

func quitCommand(s *session, _ []string) reply {
	s.quit = true
	return simpleReply("OK")
}
