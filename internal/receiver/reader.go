package receiver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/shredtap/internal/core"
)

// Reader reads datagrams from the shred socket.
type Reader interface {
	// ReadDatagrams blocks until at least one datagram arrives or deadline
	// passes. Every returned datagram owns its Data.
	ReadDatagrams(deadline time.Time) ([]core.Datagram, error)
	Close() error
}

// ConnReader reads one datagram per call.
type ConnReader struct {
	conn net.PacketConn
	buf  []byte
	out  []core.Datagram
	now  func() time.Time
}

// NewConnReader wraps conn. The reader takes ownership of conn.
func NewConnReader(conn net.PacketConn) *ConnReader {
	return &ConnReader{
		conn: conn,
		buf:  make([]byte, core.MaxDatagramSize),
		out:  make([]core.Datagram, 1),
		now:  time.Now,
	}
}

// ReadDatagrams implements Reader. The returned slice is reused by the next call.
func (r *ConnReader) ReadDatagrams(deadline time.Time) ([]core.Datagram, error) {
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	n, addr, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, r.buf[:n])
	r.out[0] = core.Datagram{Data: data, Source: addrPort(addr), ReceivedAt: r.now()}
	return r.out, nil
}

// LocalAddr returns the bound socket address.
func (r *ConnReader) LocalAddr() net.Addr { return r.conn.LocalAddr() }

func (r *ConnReader) Close() error { return r.conn.Close() }

// BatchReader drains up to a batch of datagrams per system call (recvmmsg on
// Linux, one datagram per call elsewhere).
type BatchReader struct {
	conn *ipv4.PacketConn
	raw  net.PacketConn
	msgs []ipv4.Message
	out  []core.Datagram
	now  func() time.Time
}

// NewBatchReader wraps conn. The reader takes ownership of conn.
func NewBatchReader(conn net.PacketConn, batchSize int) *BatchReader {
	if batchSize < 1 {
		batchSize = 1
	}
	msgs := make([]ipv4.Message, batchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, core.MaxDatagramSize)}
	}
	return &BatchReader{
		conn: ipv4.NewPacketConn(conn),
		raw:  conn,
		msgs: msgs,
		out:  make([]core.Datagram, 0, batchSize),
		now:  time.Now,
	}
}

// ReadDatagrams implements Reader. The returned slice is reused by the next call.
func (r *BatchReader) ReadDatagrams(deadline time.Time) ([]core.Datagram, error) {
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	n, err := r.conn.ReadBatch(r.msgs, 0)
	if err != nil {
		return nil, err
	}

	now := r.now()
	r.out = r.out[:0]
	for i := 0; i < n; i++ {
		m := &r.msgs[i]
		data := make([]byte, m.N)
		copy(data, m.Buffers[0][:m.N])
		r.out = append(r.out, core.Datagram{Data: data, Source: addrPort(m.Addr), ReceivedAt: now})
	}
	return r.out, nil
}

// LocalAddr returns the bound socket address.
func (r *BatchReader) LocalAddr() net.Addr { return r.raw.LocalAddr() }

func (r *BatchReader) Close() error { return r.raw.Close() }

// ListenConfig describes the shred socket.
type ListenConfig struct {
	Bind            string
	BatchSize       int
	ReadBufferBytes int
}

// Listen binds the shred socket and returns a reader for it. A bind failure is
// fatal to startup.
func Listen(ctx context.Context, cfg ListenConfig) (Reader, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("bind shred socket %s: %w", cfg.Bind, err)
	}

	if cfg.ReadBufferBytes > 0 {
		if udp, ok := conn.(*net.UDPConn); ok {
			if err := udp.SetReadBuffer(cfg.ReadBufferBytes); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set read buffer on %s: %w", cfg.Bind, err)
			}
		}
	}

	if cfg.BatchSize > 1 {
		return NewBatchReader(conn, cfg.BatchSize), nil
	}
	return NewConnReader(conn), nil
}

func addrPort(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	case nil:
		return netip.AddrPort{}
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}
		}
		return ap
	}
}
