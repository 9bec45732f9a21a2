package serial

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// TCPPort dials a module served over TCP. The read timeout maps to a
// per-read deadline that reports io.EOF, matching the native port's
// idle behavior so callers never care which transport they got.
type TCPPort struct {
	conn    net.Conn
	timeout time.Duration
}

func openTCP(addr string, cfg *Config) (Port, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to dial module at %s: %w", addr, err)
	}
	return &TCPPort{
		conn:    conn,
		timeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}, nil
}

func (p *TCPPort) Read(b []byte) (int, error) {
	if p.timeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(p.timeout))
	}
	n, err := p.conn.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, io.EOF
	}
	return n, err
}

func (p *TCPPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

func (p *TCPPort) Close() error {
	return p.conn.Close()
}

// Flush reads and discards whatever the module already sent.
func (p *TCPPort) Flush() error {
	var buf [256]byte
	for {
		p.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := p.conn.Read(buf[:])
		if err != nil || n == 0 {
			break
		}
	}
	p.conn.SetReadDeadline(time.Time{})
	return nil
}
