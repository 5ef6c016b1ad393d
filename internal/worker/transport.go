// Package worker implements the Worker role: one HTTP transport per
// Worker, servicing exactly one Credit at a time, with no automatic
// retry and socket-level tuning for low-latency keep-alive traffic.
//
// Grounded on internal/transport/streamable_http.go's explicit
// http.Transport + net.Dialer construction, generalized from the MCP
// streamable-HTTP adapter to a plain chat/completions/embeddings/
// rankings HTTP client, and extended with TCP_NODELAY/SO_KEEPALIVE/
// TCP_QUICKACK/TCP_USER_TIMEOUT/SO_RCVBUF/SO_SNDBUF socket tuning via a
// net.Dialer.Control callback (golang.org/x/sys/unix), which the
// teacher's dialer does not set.
package worker

import (
	"context"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TransportConfig configures a Worker's single keep-alive HTTP client.
type TransportConfig struct {
	ConnectTimeout       time.Duration
	RequestTimeout       time.Duration
	TCPUserTimeout       time.Duration
	RecvBufferBytes      int // 0 leaves the kernel default in place
	SendBufferBytes      int // 0 leaves the kernel default in place
	BlockPrivateNetworks bool // default false: AIPerf's target is usually local/private
}

// DefaultTransportConfig returns sane defaults for a benchmark worker
// talking to a nearby LLM-serving endpoint.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:  10 * time.Second,
		RequestTimeout:  5 * time.Minute,
		TCPUserTimeout:  30 * time.Second,
		RecvBufferBytes: 4 << 20,
		SendBufferBytes: 4 << 20,
	}
}

// newTunedDialer builds a net.Dialer whose Control callback applies the
// socket options §4.4 requires beyond what net.Dialer's struct fields
// expose.
func newTunedDialer(cfg TransportConfig) *net.Dialer {
	return &net.Dialer{
		Timeout: cfg.ConnectTimeout,
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if setErr := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); setErr != nil {
					ctrlErr = setErr
					return
				}
				if setErr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); setErr != nil {
					ctrlErr = setErr
					return
				}
				// TCP_QUICKACK must be re-armed after every read/write on
				// Linux; setting it here covers the post-connect default.
				_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
				if cfg.TCPUserTimeout > 0 {
					_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(cfg.TCPUserTimeout.Milliseconds()))
				}
				if cfg.RecvBufferBytes > 0 {
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufferBytes)
				}
				if cfg.SendBufferBytes > 0 {
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufferBytes)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
}

// dialContext is a thin net.Dialer.DialContext-compatible wrapper that
// dials addr through a dialer tuned by newTunedDialer. It is a plain
// function, so every connection it makes carries the socket options
// above.
func dialContext(ctx context.Context, cfg TransportConfig, network, addr string) (net.Conn, error) {
	return newTunedDialer(cfg).DialContext(ctx, network, addr)
}
