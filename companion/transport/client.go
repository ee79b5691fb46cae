package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Reconnect backoff bounds for dial mode.
const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

var channelStreamDesc = grpc.StreamDesc{
	StreamName:    channelName,
	ServerStreams: true,
	ClientStreams: true,
}

// Dialer initiates the connection to the counterpart in dial mode and keeps
// reconnecting with capped exponential backoff until closed. Every successful
// stream attaches to the link; every loss detaches it and flips reachability.
type Dialer struct {
	link   *Link
	target string
	logger zerolog.Logger

	conn   *grpc.ClientConn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDialer creates the dial-mode endpoint over link.
func NewDialer(link *Link, target string, logger zerolog.Logger) *Dialer {
	return &Dialer{
		link:   link,
		target: target,
		logger: logger.With().Str("component", "transport-dialer").Logger(),
		done:   make(chan struct{}),
	}
}

// Start opens the client connection and runs the reconnect loop in the
// background until Close.
func (d *Dialer) Start() error {
	conn, err := grpc.NewClient(d.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.target, err)
	}
	d.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)
	return nil
}

// Close stops reconnecting and releases the connection.
func (d *Dialer) Close() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func (d *Dialer) run(ctx context.Context) {
	defer close(d.done)

	delay := reconnectMinDelay
	for {
		stream, err := d.conn.NewStream(ctx, &channelStreamDesc, channelMethod)
		if err != nil {
			d.logger.Warn().Err(err).Dur("retry_in", delay).Msg("channel open failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		delay = reconnectMinDelay
		fs := &clientFrameStream{stream: stream}
		d.link.attach(fs)
		if err := d.link.runStream(fs); err != nil {
			d.logger.Warn().Err(err).Msg("channel stream ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// clientFrameStream adapts grpc.ClientStream to the frame contract.
type clientFrameStream struct {
	stream grpc.ClientStream
}

func (c *clientFrameStream) Send(f *Frame) error {
	return c.stream.SendMsg(f)
}

func (c *clientFrameStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := c.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}
