package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"milepost/pkg/model"
)

// UDPSource receives JSON-encoded location fixes as datagrams, one fix per
// packet. Phone GPS forwarder apps can point at this port directly.
//
// A datagram that fails to decode is reported as a transient position error;
// silence longer than the timeout is reported as a timeout. Both keep the
// listener running.
type UDPSource struct {
	addr    string
	timeout time.Duration

	conn    *net.UDPConn
	samples chan model.LocationSample
	errs    chan error
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewUDPSource creates a UDP listener source on addr (e.g. ":9907").
func NewUDPSource(addr string, timeout time.Duration) *UDPSource {
	return &UDPSource{
		addr:    addr,
		timeout: timeout,
		samples: make(chan model.LocationSample, 16),
		errs:    make(chan error, 4),
	}
}

func (u *UDPSource) Samples() <-chan model.LocationSample { return u.samples }
func (u *UDPSource) Errors() <-chan error                 { return u.errs }

func (u *UDPSource) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return nil
	}

	laddr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", u.addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", u.addr, err)
	}
	u.conn = conn
	u.started = true
	slog.Info("Location: UDP source listening", "addr", conn.LocalAddr())

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		buf := make([]byte, 2048)
		for {
			if ctx.Err() != nil {
				return
			}
			if u.timeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(u.timeout))
			}
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					u.report(ErrTimeout)
					continue
				}
				// Closed socket means shutdown.
				return
			}

			var s model.LocationSample
			if err := json.Unmarshal(buf[:n], &s); err != nil {
				slog.Warn("Location: dropping undecodable datagram", "error", err)
				u.report(ErrPositionUnavailable)
				continue
			}
			if s.Timestamp.IsZero() {
				s.Timestamp = time.Now()
			}
			select {
			case u.samples <- s:
			default:
			}
		}
	}()
	return nil
}

func (u *UDPSource) report(err error) {
	select {
	case u.errs <- err:
	default:
	}
}

func (u *UDPSource) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.started {
		return nil
	}
	u.started = false
	err := u.conn.Close()
	u.wg.Wait()
	return err
}
