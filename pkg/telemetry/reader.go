package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/golang/glog"
)

// PacketHandler is called when a packet is received.
type PacketHandler interface {
	HandlePacket(context.Context, []byte)
}

// HandlePacketFunc is func type of PacketHandler.
type HandlePacketFunc func(context.Context, []byte)

// HandlePacket implements PacketHandler.
func (f HandlePacketFunc) HandlePacket(ctx context.Context, pkt []byte) {
	f(ctx, pkt)
}

// Reader extracts packets from a byte stream, e.g. a raw capture file or
// a serial link.
type Reader struct {
	Source     io.Reader
	Handler    PacketHandler
	BufferSize int

	parser Parser
}

// NewReader creates a Reader.
func NewReader(r io.Reader, h PacketHandler) *Reader {
	return &Reader{Source: r, Handler: h, BufferSize: 4096}
}

// Run reads until the stream ends, returning nil on EOF.
func (r *Reader) Run(ctx context.Context) error {
	r.parser.Reset()
	dataCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.readLoop(subCtx, dataCh, errCh)
	for {
		select {
		case data := <-dataCh:
			r.parser.Write(data, func(pr ParseResult) {
				if pr.Skipped > 0 {
					glog.V(2).Infof("[Data] skipped %d bytes before packet", pr.Skipped)
				}
				r.Handler.HandlePacket(ctx, pr.Packet)
			})
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reader) readLoop(ctx context.Context, dataCh chan []byte, errCh chan error) {
	size := r.BufferSize
	if size <= 0 {
		size = 4096
	}
	for {
		buf := make([]byte, size)
		n, err := r.Source.Read(buf)
		if n > 0 {
			select {
			case dataCh <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}
