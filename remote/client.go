package remote

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"github.com/gogpu/sandbox/codec"
)

// Frame is one dequantized grid triplet.
type Frame struct {
	Bathymetry []float32 // (w-1)*(h-1) vertex elevations
	WaterLevel []float32 // w*h water surface elevations
	Snow       []float32 // w*h snow heights
}

// NewFrame allocates a frame for grids described by info.
func NewFrame(info GridInfo) *Frame {
	bw, bh := info.BathymetrySize()
	n := info.Size[0] * info.Size[1]
	return &Frame{
		Bathymetry: make([]float32, bw*bh),
		WaterLevel: make([]float32, n),
		Snow:       make([]float32, n),
	}
}

// Client is a remote viewer connection.
type Client struct {
	conn   conn
	order  binary.ByteOrder // server's order
	worder binary.ByteOrder // ours
	info   GridInfo
	quant  codec.Quantizer
	frames int
	pixels pixelBuffers

	wmu sync.Mutex
}

// Dial connects to a server at a TCP address.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.SetReadDeadline(deadline)
		defer c.SetReadDeadline(time.Time{})
	}
	cl, err := newClient(newStreamConn(c), opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	return cl, nil
}

// DialWS connects to a server's websocket endpoint, for example
// "ws://host:port/stream".
func DialWS(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", url, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.SetReadDeadline(deadline)
		defer c.SetReadDeadline(time.Time{})
	}
	cl, err := newClient(&wsConn{c: c}, opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	return cl, nil
}

func newClient(c conn, opts []Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := c.WriteMessage(time.Time{}, func(w io.Writer) error {
		return writeToken(w, o.order)
	}); err != nil {
		return nil, fmt.Errorf("remote: send token: %w", err)
	}
	info, order, err := readHandshake(c)
	if err != nil {
		return nil, fmt.Errorf("remote: handshake: %w", err)
	}
	bw, bh := info.BathymetrySize()
	n := info.Size[0] * info.Size[1]
	logger().Info("remote: connected", "addr", c.RemoteAddr(),
		"size", fmt.Sprintf("%dx%d", info.Size[0], info.Size[1]))
	return &Client{
		conn:   c,
		order:  order,
		worder: o.order,
		info:   info,
		quant:  codec.RangeQuantizer(info.ElevationMin, info.ElevationMax),
		pixels: pixelBuffers{
			bathymetry: make([]uint16, bw*bh),
			water:      make([]uint16, n),
			snow:       make([]uint16, n),
		},
	}, nil
}

// Info returns the grid description received from the server.
func (c *Client) Info() GridInfo { return c.info }

// Quantizer returns the quantization the server applies to all grids.
func (c *Client) Quantizer() codec.Quantizer { return c.quant }

// ReadFrame waits for the next grid triplet and stores it in f, which
// must have been allocated for this client's grid.
func (c *Client) ReadFrame(f *Frame) error {
	bw, bh := c.info.BathymetrySize()
	w, h := c.info.Size[0], c.info.Size[1]
	p := &c.pixels
	var err error
	if c.frames == 0 {
		d := codec.NewIntraDecompressor(c.conn, c.order)
		if err = d.DecompressFrame(bw, bh, p.bathymetry); err == nil {
			if err = d.DecompressFrame(w, h, p.water); err == nil {
				err = d.DecompressFrame(w, h, p.snow)
			}
		}
	} else {
		d := codec.NewInterDecompressor(c.conn, c.order)
		if err = d.DecompressFrame(bw, bh, p.bathymetry, p.bathymetry); err == nil {
			if err = d.DecompressFrame(w, h, p.water, p.water); err == nil {
				err = d.DecompressFrame(w, h, p.snow, p.snow)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("remote: frame %d: %w", c.frames, err)
	}
	c.frames++

	c.quant.Dequantize(f.Bathymetry, p.bathymetry)
	c.quant.Dequantize(f.WaterLevel, p.water)
	c.quant.Dequantize(f.Snow, p.snow)
	return nil
}

// Frames returns the number of frames read so far.
func (c *Client) Frames() int { return c.frames }

// SendPosition reports the viewer's position and viewing direction. It
// may be called concurrently with ReadFrame.
func (c *Client) SendPosition(pos, dir mgl32.Vec3) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(time.Time{}, func(w io.Writer) error {
		return writePosition(w, c.worder, Pose{Position: pos, Direction: dir})
	})
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
