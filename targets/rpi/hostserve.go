//go:build linux

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"

	"rotomod/protocol"
)

// serveHost exposes the module's host channel on a TCP listener, one
// client at a time with the newest connection winning. The module never
// sees connections come and go: it talks to its end of an in-memory
// pipe and this code shuttles bytes between the pipe's far end and
// whichever client is current.
//
// A client that drops mid-frame can leave a stale payload byte or two
// in the pipe; the quiesce sequence host tools run on connect clears
// that up.
func serveHost(ctx context.Context, addr string, far *protocol.PipeEnd, logger *slog.Logger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var cur net.Conn

	go func() {
		<-ctx.Done()
		l.Close()
		mu.Lock()
		if cur != nil {
			cur.Close()
		}
		mu.Unlock()
		far.Close()
	}()

	// Outbound pump: module bytes go to whoever is connected and drop
	// otherwise, the same way an unread UART transmit line drops bits
	// on the floor.
	go func() {
		buf := make([]byte, 512)
		farIO := far.IO()
		for {
			n, err := farIO.Read(buf)
			if err != nil {
				return
			}
			mu.Lock()
			c := cur
			mu.Unlock()
			if c != nil {
				c.Write(buf[:n])
			}
		}
	}()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			logger.Info("host connected", "remote", conn.RemoteAddr())
			mu.Lock()
			if cur != nil {
				cur.Close()
			}
			cur = conn
			mu.Unlock()

			go func(c net.Conn) {
				// Inbound pump for this client; ends when the client
				// closes or a newer one displaces it.
				io.Copy(far.IO(), c)
				logger.Info("host disconnected", "remote", c.RemoteAddr())
				c.Close()
			}(conn)
		}
	}()

	return nil
}
