package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/efstat/helpers"
	"github.com/temoto/efstat/log2"
)

const (
	DefaultPort           = 8055
	DefaultNetworkTimeout = 30 * time.Second
	DefaultRetryDelay     = 5 * time.Second
	DefaultFrameBuffer    = 32
)

var ErrClosing = fmt.Errorf("closing")

type ClientOptions struct {
	Log            *log2.Log
	Address        string // host or host:port
	NetworkTimeout time.Duration
	RetryDelay     time.Duration
	FrameLimit     int
	FrameBuffer    int
	Dialer         *net.Dialer
}

// Device connection, byte level.
// Responsible for:
// - establish connection, redial with fixed delay after it drops
// - reassemble frames
// - drop connection on Reconnect() request, redial immediately
// Frames() channel is closed only after Close().
type Client struct {
	sync.Mutex // protects current
	alive      *alive.Alive
	current    net.Conn
	err        helpers.AtomicError
	frames     chan Frame
	last       atomic_clock.Clock
	opt        ClientOptions
	stat       Stat

	reconnectNow uint32
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Address == "" {
		return nil, errors.NotValidf("config error transport Address=empty")
	}
	if _, _, err := net.SplitHostPort(opt.Address); err != nil {
		opt.Address = net.JoinHostPort(opt.Address, strconv.Itoa(DefaultPort))
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.RetryDelay == 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	if opt.FrameLimit == 0 {
		opt.FrameLimit = DefaultFrameLimit
	}
	if opt.FrameBuffer == 0 {
		opt.FrameBuffer = DefaultFrameBuffer
	}
	if opt.Dialer == nil {
		opt.Dialer = &net.Dialer{Timeout: opt.NetworkTimeout}
	}

	c := &Client{
		alive:  alive.NewAlive(),
		frames: make(chan Frame, opt.FrameBuffer),
		opt:    opt,
	}
	c.alive.Add(1)
	go c.worker()
	return c, nil
}

func (c *Client) Frames() <-chan Frame { return c.frames }

// Err is terminal error after Frames() is closed, nil for orderly Close().
func (c *Client) Err() error {
	if err, ok := c.err.Load(); ok && err != ErrClosing {
		return err
	}
	return nil
}

// Reconnect drops current connection, worker redials without delay.
// No-op after Close() or while not connected: worker is already redialing.
func (c *Client) Reconnect() {
	if !c.alive.IsRunning() {
		return
	}
	c.Lock()
	defer c.Unlock()
	if c.current == nil {
		c.opt.Log.Debugf("reconnect requested while not connected, ignored")
		return
	}
	atomic.StoreUint32(&c.reconnectNow, 1)
	c.opt.Log.Debugf("reconnect requested remote=%s", c.current.RemoteAddr())
	_ = c.current.Close()
}

func (c *Client) Close() error {
	_, _ = c.err.StoreOnce(ErrClosing)
	c.alive.Stop()
	c.Lock()
	if c.current != nil {
		_ = c.current.Close()
	}
	c.Unlock()
	c.alive.Wait()
	return nil
}

func (c *Client) Wait() { c.alive.Wait() }

func (c *Client) Stat() *Stat { return &c.stat }

func (c *Client) SinceLastRecv() time.Duration {
	if c.last.IsZero() {
		return 0
	}
	return atomic_clock.Since(&c.last)
}

func (c *Client) worker() {
	defer c.alive.Done()
	defer close(c.frames)
	stopch := c.alive.StopChan()

	for c.alive.IsRunning() {
		conn, err := c.dial()
		if err != nil {
			c.stat.Error.Add(1)
			c.opt.Log.Errorf("connect address=%s err=%v", c.opt.Address, err)
			if !helpers.Sleep(c.opt.RetryDelay, stopch) {
				return
			}
			continue
		}
		if !c.setCurrent(conn) {
			_ = conn.Close()
			return
		}
		c.stat.Connect.Add(1)
		c.opt.Log.Infof("connected remote=%s", conn.RemoteAddr())

		err = c.readLoop(conn, stopch)
		c.setCurrent(nil)
		_ = conn.Close()
		if !c.alive.IsRunning() {
			return
		}

		delay := c.opt.RetryDelay
		if atomic.CompareAndSwapUint32(&c.reconnectNow, 1, 0) {
			delay = 0
			c.opt.Log.Infof("connection dropped by request")
		} else {
			c.stat.Error.Add(1)
			c.opt.Log.Errorf("connection lost remote=%s err=%v", conn.RemoteAddr(), err)
		}
		if !helpers.Sleep(delay, stopch) {
			return
		}
	}
}

func (c *Client) dial() (net.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()
	conn, err := c.opt.Dialer.DialContext(ctx, "tcp", c.opt.Address)
	if err != nil {
		return nil, errors.Annotatef(err, "dial")
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetLinger(0)
	}
	return conn, nil
}

// Returns false if client is closing, conn is not stored then.
func (c *Client) setCurrent(conn net.Conn) bool {
	c.Lock()
	defer c.Unlock()
	if conn != nil && !c.alive.IsRunning() {
		return false
	}
	if conn != nil {
		atomic.StoreUint32(&c.reconnectNow, 0)
	}
	c.current = conn
	return true
}

func (c *Client) readLoop(conn net.Conn, stopch <-chan struct{}) error {
	framer := NewFramer(helpers.NewStatReader(conn, &c.stat.Bytes, 0), c.opt.FrameLimit, &c.stat)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.opt.NetworkTimeout)); err != nil {
			return errors.Annotate(err, "SetReadDeadline")
		}
		f, err := framer.Read()
		if err != nil {
			return errors.Annotate(err, "receive")
		}
		f.Received = time.Now()
		c.last.SetNow()
		select {
		case c.frames <- f:
		case <-stopch:
			return ErrClosing
		}
	}
}
