package rkv

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	maxBulkLen  = 512 * 1024 * 1024
	maxArrayLen = 1024 * 1024
	readBufSize = 64 * 1024
)

// RespReader decodes client requests. A request is either a RESP array of
// bulk strings or an inline command line.
type RespReader struct {
	r *bufio.Reader
}

func NewRespReader(r io.Reader) *RespReader {
	return &RespReader{r: bufio.NewReaderSize(r, readBufSize)}
}

// Buffered reports whether more request bytes are already waiting, which
// is how the server detects a pipeline it should answer in one flush.
func (r *RespReader) Buffered() int {
	return r.r.Buffered()
}

// ReadCommand returns the next request as command name followed by its
// arguments. An empty request (blank inline line, "*0") yields an empty
// slice. A clean EOF between requests returns io.EOF; malformed input
// returns an error wrapping ErrProtocol.
func (r *RespReader) ReadCommand() ([]string, error) {
	b, err := r.r.Peek(1)
	if err != nil {
		return nil, err
	}
	if b[0] != '*' {
		return r.readInline()
	}

	line, err := r.readLine()
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid multibulk length", ErrProtocol)
	}
	if n > maxArrayLen {
		return nil, fmt.Errorf("%w: invalid multibulk length", ErrProtocol)
	}
	if n <= 0 {
		return []string{}, nil
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		arg, err := r.readBulk()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func (r *RespReader) readInline() ([]string, error) {
	line, err := r.readLine()
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	return splitInline(line)
}

// splitInline splits an inline command on spaces the way redis-cli does.
// Double-quoted arguments may contain spaces and the escapes \n \r \t
// \b \a \" \\ and \xHH. Single-quoted arguments are literal except for \'.
// A closing quote must be followed by a space or the end of the line.
func splitInline(line string) ([]string, error) {
	args := []string{}
	i := 0
	for {
		for i < len(line) && isInlineSpace(line[i]) {
			i++
		}
		if i == len(line) {
			return args, nil
		}

		var arg []byte
		switch line[i] {
		case '"':
			i++
			for {
				if i == len(line) {
					return nil, fmt.Errorf("%w: unbalanced quotes in request", ErrProtocol)
				}
				c := line[i]
				if c == '"' {
					i++
					break
				}
				if c == '\\' && i+1 < len(line) {
					if line[i+1] == 'x' && i+3 < len(line) && isHex(line[i+2]) && isHex(line[i+3]) {
						n, _ := strconv.ParseUint(line[i+2:i+4], 16, 8)
						arg = append(arg, byte(n))
						i += 4
						continue
					}
					arg = append(arg, unescape(line[i+1]))
					i += 2
					continue
				}
				arg = append(arg, c)
				i++
			}
		case '\'':
			i++
			for {
				if i == len(line) {
					return nil, fmt.Errorf("%w: unbalanced quotes in request", ErrProtocol)
				}
				c := line[i]
				if c == '\'' {
					i++
					break
				}
				if c == '\\' && i+1 < len(line) && line[i+1] == '\'' {
					arg = append(arg, '\'')
					i += 2
					continue
				}
				arg = append(arg, c)
				i++
			}
		default:
			for i < len(line) && !isInlineSpace(line[i]) {
				arg = append(arg, line[i])
				i++
			}
			args = append(args, string(arg))
			continue
		}
		if i < len(line) && !isInlineSpace(line[i]) {
			return nil, fmt.Errorf("%w: unbalanced quotes in request", ErrProtocol)
		}
		args = append(args, string(arg))
	}
}

func isInlineSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'a':
		return '\a'
	}
	return c
}

func (r *RespReader) readBulk() (string, error) {
	line, err := r.readLine()
	if err != nil {
		return "", unexpectedEOF(err)
	}
	if line == "" || line[0] != '$' {
		return "", fmt.Errorf("%w: expected '$', got '%s'", ErrProtocol, firstByte(line))
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 0 || n > maxBulkLen {
		return "", fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	// the buffer grows with the payload actually received, so a large
	// length header alone does not allocate
	var buf bytes.Buffer
	if n <= readBufSize {
		buf.Grow(n)
	}
	if _, err := io.CopyN(&buf, r.r, int64(n)); err != nil {
		return "", unexpectedEOF(err)
	}
	var crlf [2]byte
	if _, err := io.ReadFull(r.r, crlf[:]); err != nil {
		return "", unexpectedEOF(err)
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return "", fmt.Errorf("%w: bulk string not terminated by CRLF", ErrProtocol)
	}
	return buf.String(), nil
}

// readLine reads up to and including '\n' and strips the line ending.
func (r *RespReader) readLine() (string, error) {
	line, err := r.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("%w: too big request line", ErrProtocol)
	}
	s := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
	return s, err
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func firstByte(s string) string {
	if s == "" {
		return ""
	}
	return s[:1]
}

// RespWriter encodes replies into a buffer. Write errors are sticky in
// the underlying bufio.Writer and surface from Flush.
type RespWriter struct {
	w *bufio.Writer
}

func NewRespWriter(w io.Writer) *RespWriter {
	return &RespWriter{w: bufio.NewWriter(w)}
}

func (w *RespWriter) WriteSimple(s string) {
	w.w.WriteByte('+')
	w.w.WriteString(s)
	w.w.WriteString("\r\n")
}

// WriteError writes msg as an error reply. msg should carry its own
// prefix such as "ERR".
func (w *RespWriter) WriteError(msg string) {
	w.w.WriteByte('-')
	w.w.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(msg))
	w.w.WriteString("\r\n")
}

func (w *RespWriter) WriteInt(n int64) {
	w.w.WriteByte(':')
	w.w.WriteString(strconv.FormatInt(n, 10))
	w.w.WriteString("\r\n")
}

func (w *RespWriter) WriteBulk(s string) {
	w.w.WriteByte('$')
	w.w.WriteString(strconv.Itoa(len(s)))
	w.w.WriteString("\r\n")
	w.w.WriteString(s)
	w.w.WriteString("\r\n")
}

func (w *RespWriter) WriteNull() {
	w.w.WriteString("$-1\r\n")
}

func (w *RespWriter) WriteArray(values []string) {
	w.w.WriteByte('*')
	w.w.WriteString(strconv.Itoa(len(values)))
	w.w.WriteString("\r\n")
	for _, v := range values {
		w.WriteBulk(v)
	}
}

func (w *RespWriter) Flush() error {
	return w.w.Flush()
}
