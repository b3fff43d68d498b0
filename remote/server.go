package remote

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"github.com/gogpu/sandbox/codec"
	"github.com/gogpu/sandbox/internal/triple"
)

// GridSource fills the three streamed grids. Bathymetry holds
// (w-1)*(h-1) values, water level and snow w*h values, row-major.
type GridSource interface {
	ReadGrids(bathymetry, water, snow []float32) error
}

// GridSourceFunc adapts a function to GridSource.
type GridSourceFunc func(bathymetry, water, snow []float32) error

// ReadGrids calls f.
func (f GridSourceFunc) ReadGrids(bathymetry, water, snow []float32) error {
	return f(bathymetry, water, snow)
}

type options struct {
	requestInterval time.Duration
	writeTimeout    time.Duration
	order           binary.ByteOrder
}

func defaultOptions() options {
	return options{
		requestInterval: time.Second / 30,
		writeTimeout:    5 * time.Second,
		order:           binary.LittleEndian,
	}
}

// Option configures a Server or Client.
type Option func(*options)

// WithRequestInterval sets the minimum simulation time between two grid
// requests. Zero requests grids on every frame.
func WithRequestInterval(d time.Duration) Option {
	return func(o *options) { o.requestInterval = max(d, 0) }
}

// WithWriteTimeout bounds each frame write to one viewer. A viewer that
// cannot keep up is disconnected. Zero disables the timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = max(d, 0) }
}

// WithByteOrder sets the byte order written to the peer. Peers adapt to
// either order.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(o *options) { o.order = order }
}

type clientState int

const (
	stateStart clientState = iota // waiting for the byte order token
	stateIntra                    // next frame is intra-coded
	stateInter
)

type client struct {
	conn  conn
	state clientState
	pose  Pose
}

type eventKind int

const (
	eventStarted eventKind = iota
	eventPose
	eventFailed
)

type event struct {
	c    *client
	kind eventKind
	pose Pose
	err  error
}

type gridBuffers struct {
	bathymetry, water, snow []float32
}

type pixelBuffers struct {
	bathymetry, water, snow []uint16
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server streams grids to connected viewers.
//
// Frame and ClientPoses are called from the simulation goroutine; one
// network goroutine owns all viewer state, quantizes and compresses
// frames, and writes them.
type Server struct {
	info  GridInfo
	quant codec.Quantizer
	opts  options

	grids *triple.Buffer[gridBuffers]
	poses *triple.Buffer[[]mgl32.Mat4]

	streaming   atomic.Int32
	nextRequest time.Duration

	conns  chan conn
	events chan event
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// Owned by the network goroutine.
	clients []*client
	pixels  [2]pixelBuffers
	current int
}

// NewServer returns a server for grids described by info. The elevation
// range in info is widened by 5% on each side for quantization.
func NewServer(info GridInfo, opts ...Option) (*Server, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}
	q, err := codec.NewQuantizer(info.ElevationMin, info.ElevationMax)
	if err != nil {
		return nil, err
	}
	info.ElevationMin, info.ElevationMax = q.Min, q.Max

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	bw, bh := info.BathymetrySize()
	n := info.Size[0] * info.Size[1]
	s := &Server{
		info:  info,
		quant: q,
		opts:  o,
		grids: triple.New(func(g *gridBuffers) {
			g.bathymetry = make([]float32, bw*bh)
			g.water = make([]float32, n)
			g.snow = make([]float32, n)
		}),
		poses:  triple.New[[]mgl32.Mat4](nil),
		conns:  make(chan conn),
		events: make(chan event),
		wake:   make(chan struct{}, 1),
	}
	for i := range s.pixels {
		s.pixels[i] = pixelBuffers{
			bathymetry: make([]uint16, bw*bh),
			water:      make([]uint16, n),
			snow:       make([]uint16, n),
		}
	}
	s.current = 1

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Info returns the grid description sent to viewers.
func (s *Server) Info() GridInfo { return s.info }

// Clients returns the number of viewers receiving frames.
func (s *Server) Clients() int { return int(s.streaming.Load()) }

// Serve accepts viewer connections on l until ctx is done or the server
// is closed. It closes l before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	stopClosed := context.AfterFunc(s.ctx, func() { l.Close() })
	defer stopClosed()

	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("remote: accept: %w", err)
		}
		if tc, ok := c.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		s.add(newStreamConn(c))
	}
}

// ServeWS upgrades an HTTP request to a websocket viewer connection.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger().Warn("remote: websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}
	s.add(&wsConn{c: c})
}

func (s *Server) add(c conn) {
	select {
	case s.conns <- c:
	case <-s.ctx.Done():
		c.Close()
	}
}

// Frame requests a new grid triplet from src when at least one viewer is
// streaming and the request interval has elapsed at simulation time now.
// It never waits for the network.
func (s *Server) Frame(now time.Duration, src GridSource) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if s.streaming.Load() == 0 || now < s.nextRequest {
		return nil
	}
	g := s.grids.StartNew()
	if err := src.ReadGrids(g.bathymetry, g.water, g.snow); err != nil {
		return fmt.Errorf("remote: read grids: %w", err)
	}
	s.grids.Post()
	if s.opts.requestInterval > 0 {
		s.nextRequest = (now/s.opts.requestInterval + 1) * s.opts.requestInterval
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// ClientPoses returns the latest viewer frames relative to the grid
// center (see Pose.Transform). The slice stays valid until the next call.
func (s *Server) ClientPoses() []mgl32.Mat4 {
	s.poses.LockNew()
	return *s.poses.Locked()
}

// Close disconnects all viewers and stops the network goroutine.
func (s *Server) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *Server) run() {
	defer s.wg.Done()
	defer func() {
		for _, c := range s.clients {
			c.conn.Close()
		}
		s.clients = nil
		s.streaming.Store(0)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case c := <-s.conns:
			s.connect(c)
		case ev := <-s.events:
			s.handle(ev)
		case <-s.wake:
			s.broadcast()
		}
		s.publishPoses()
	}
}

func (s *Server) deadline() time.Time {
	if s.opts.writeTimeout == 0 {
		return time.Time{}
	}
	return time.Now().Add(s.opts.writeTimeout)
}

func (s *Server) connect(c conn) {
	err := c.WriteMessage(s.deadline(), func(w io.Writer) error {
		return writeHandshake(w, s.opts.order, s.info)
	})
	if err != nil {
		logger().Warn("remote: handshake failed", "addr", c.RemoteAddr(), "err", err)
		c.Close()
		return
	}
	cl := &client{conn: c}
	s.clients = append(s.clients, cl)
	logger().Info("remote: viewer connected", "addr", c.RemoteAddr())

	s.wg.Add(1)
	go s.read(cl)
}

// read runs one viewer's incoming message loop.
func (s *Server) read(c *client) {
	defer s.wg.Done()
	send := func(ev event) bool {
		select {
		case s.events <- ev:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	var tok [4]byte
	if _, err := io.ReadFull(c.conn, tok[:]); err != nil {
		send(event{c: c, kind: eventFailed, err: err})
		return
	}
	order, err := tokenOrder(tok)
	if err != nil {
		send(event{c: c, kind: eventFailed, err: err})
		return
	}
	if !send(event{c: c, kind: eventStarted}) {
		return
	}
	for {
		p, err := readMessage(c.conn, order)
		if err != nil {
			send(event{c: c, kind: eventFailed, err: err})
			return
		}
		if !send(event{c: c, kind: eventPose, pose: p}) {
			return
		}
	}
}

func (s *Server) handle(ev event) {
	i := s.indexOf(ev.c)
	if i < 0 {
		return
	}
	switch ev.kind {
	case eventStarted:
		ev.c.state = stateIntra
		s.streaming.Add(1)
	case eventPose:
		ev.c.pose = ev.pose
	case eventFailed:
		if errors.Is(ev.err, io.EOF) || errors.Is(ev.err, net.ErrClosed) || websocket.IsCloseError(ev.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger().Info("remote: viewer disconnected", "addr", ev.c.conn.RemoteAddr())
		} else {
			logger().Warn("remote: disconnecting viewer", "addr", ev.c.conn.RemoteAddr(), "err", ev.err)
		}
		s.remove(i)
	}
}

func (s *Server) indexOf(c *client) int {
	for i, cl := range s.clients {
		if cl == c {
			return i
		}
	}
	return -1
}

func (s *Server) remove(i int) {
	c := s.clients[i]
	if c.state >= stateIntra {
		s.streaming.Add(-1)
	}
	c.conn.Close()
	last := len(s.clients) - 1
	s.clients[i] = s.clients[last]
	s.clients[last] = nil
	s.clients = s.clients[:last]
}

// broadcast quantizes the newest grid triplet and sends it to every
// streaming viewer.
func (s *Server) broadcast() {
	if !s.grids.LockNew() {
		return
	}
	g := s.grids.Locked()
	next := 1 - s.current
	cur, prev := &s.pixels[next], &s.pixels[s.current]
	s.quant.Quantize(cur.bathymetry, g.bathymetry)
	s.quant.Quantize(cur.water, g.water)
	s.quant.Quantize(cur.snow, g.snow)

	bw, bh := s.info.BathymetrySize()
	w, h := s.info.Size[0], s.info.Size[1]
	var dead []*client
	for _, c := range s.clients {
		var err error
		switch c.state {
		case stateIntra:
			err = c.conn.WriteMessage(s.deadline(), func(wr io.Writer) error {
				ic := codec.NewIntraCompressor(wr, s.opts.order)
				return errors.Join(
					ic.CompressFrame(bw, bh, cur.bathymetry),
					ic.CompressFrame(w, h, cur.water),
					ic.CompressFrame(w, h, cur.snow),
				)
			})
			if err == nil {
				c.state = stateInter
			}
		case stateInter:
			err = c.conn.WriteMessage(s.deadline(), func(wr io.Writer) error {
				pc := codec.NewInterCompressor(wr, s.opts.order)
				return errors.Join(
					pc.CompressFrame(bw, bh, prev.bathymetry, cur.bathymetry),
					pc.CompressFrame(w, h, prev.water, cur.water),
					pc.CompressFrame(w, h, prev.snow, cur.snow),
				)
			})
		}
		if err != nil {
			logger().Warn("remote: disconnecting viewer", "addr", c.conn.RemoteAddr(), "err", err)
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		s.remove(s.indexOf(c))
	}
	s.current = next
}

func (s *Server) publishPoses() {
	p := s.poses.StartNew()
	*p = (*p)[:0]
	for _, c := range s.clients {
		if c.state >= stateIntra {
			*p = append(*p, c.pose.Transform(s.info))
		}
	}
	s.poses.Post()
}
