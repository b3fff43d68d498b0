package remote

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one viewer connection. Reads see the peer's messages as one
// continuous stream; each WriteMessage call is delivered as a unit.
type conn interface {
	io.Reader
	WriteMessage(deadline time.Time, fn func(w io.Writer) error) error
	Close() error
	RemoteAddr() net.Addr
}

// streamConn carries the protocol over a plain byte stream.
type streamConn struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

func newStreamConn(c net.Conn) *streamConn {
	return &streamConn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriterSize(c, 64<<10)}
}

func (s *streamConn) Read(p []byte) (int, error) { return s.br.Read(p) }

func (s *streamConn) WriteMessage(deadline time.Time, fn func(w io.Writer) error) error {
	if err := s.c.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := fn(s.bw); err != nil {
		return err
	}
	return s.bw.Flush()
}

func (s *streamConn) Close() error         { return s.c.Close() }
func (s *streamConn) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// wsConn carries the protocol in binary websocket messages.
type wsConn struct {
	c   *websocket.Conn
	cur io.Reader
}

func (s *wsConn) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			typ, r, err := s.c.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			s.cur = r
		}
		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *wsConn) WriteMessage(deadline time.Time, fn func(w io.Writer) error) error {
	if err := s.c.SetWriteDeadline(deadline); err != nil {
		return err
	}
	w, err := s.c.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *wsConn) Close() error         { return s.c.Close() }
func (s *wsConn) RemoteAddr() net.Addr { return s.c.RemoteAddr() }
