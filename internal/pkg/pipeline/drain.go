package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// Drain copies src to sink until src is exhausted or ctx is done. It returns
// the number of packets written.
func Drain(ctx context.Context, src packet.Source, sink packet.Sink) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		p, err := src.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := sink.WritePacket(p); err != nil {
			return n, fmt.Errorf("packet %d: %w", n+1, err)
		}
		n++
	}
}
