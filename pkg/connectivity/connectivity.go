// Package connectivity checks whether proxy nodes accept TCP connections.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
)

// DialReport describes one TCP connection attempt.
type DialReport struct {
	Hostname   string    `json:"hostname"`
	IP         string    `json:"ip"`
	Port       string    `json:"port"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
	DurationMs int64     `json:"duration_ms"`
}

func (r DialReport) IsSuccess() bool {
	return r.Error == ""
}

type Prober struct {
	dialer transport.StreamDialer
	logger *slog.Logger
}

// NewProber dials through transportConfig, or direct TCP when it is empty.
func NewProber(transportConfig string, logger *slog.Logger) (*Prober, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var dialer transport.StreamDialer = &transport.TCPDialer{}
	if transportConfig != "" {
		d, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(transportConfig)
		if err != nil {
			return nil, fmt.Errorf("could not create dialer: %w", err)
		}
		dialer = d
	}
	return &Prober{dialer: dialer, logger: logger}, nil
}

// Report dials address and closes the connection straight away.
func (p *Prober) Report(ctx context.Context, address string) DialReport {
	hostname, port, _ := net.SplitHostPort(address)
	report := DialReport{Hostname: hostname, Port: port}

	// net.Dialer reports the connected address through the client trace.
	var mu sync.Mutex
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		ConnectDone: func(network, addr string, connErr error) {
			if ip, _, err := net.SplitHostPort(addr); err == nil {
				mu.Lock()
				report.IP = ip
				mu.Unlock()
			}
		},
	})

	start := time.Now()
	conn, err := p.dialer.DialStream(ctx, address)
	mu.Lock()
	defer mu.Unlock()
	report.Time = start.UTC().Truncate(time.Second)
	report.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		report.Error = findBaseError(err).Error()
		return report
	}
	conn.Close()
	return report
}

// Probe satisfies classify.NodeProber.
func (p *Prober) Probe(ctx context.Context, address string) error {
	r := p.Report(ctx, address)
	if !r.IsSuccess() {
		p.logger.Debug("Node unreachable", "address", address, "error", r.Error, "durationMs", r.DurationMs)
		return errors.New(r.Error)
	}
	p.logger.Debug("Node reachable", "address", address, "ip", r.IP, "durationMs", r.DurationMs)
	return nil
}

// findBaseError unwraps an error chain to find the most basic underlying error
func findBaseError(err error) error {
	for err != nil {
		// Try to unwrap as joined errors first
		if unwrapInterface, ok := err.(interface{ Unwrap() []error }); ok {
			errs := unwrapInterface.Unwrap()
			if len(errs) > 0 {
				// Take the last error in the joined slice as it's likely
				// to be the most specific one
				err = errs[len(errs)-1]
				continue
			}
		}

		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
	return err
}
