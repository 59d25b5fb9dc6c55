// Package pipeline holds the stages packets flow through between a capture
// reader and a writer. Every stage is a packet.Source pulling from the one
// before it.
package pipeline

import (
	"io"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

type identifier struct {
	src      packet.Source
	session  *identity.Session
	deferred []*packet.Packet
	ready    []*packet.Packet
	eof      bool
}

// Identify dissects every packet of src in s. Order is preserved: a packet
// whose chain is incomplete, such as an IPv4 fragment waiting for its
// siblings, holds back every packet after it until it completes. When src
// is exhausted whatever is still held back is released as is.
func Identify(src packet.Source, s *identity.Session) packet.Source {
	return &identifier{src: src, session: s}
}

func (id *identifier) Next() (*packet.Packet, error) {
	for {
		if len(id.ready) > 0 {
			p := id.ready[0]
			id.ready = id.ready[1:]
			return p, nil
		}
		if id.eof {
			if len(id.deferred) == 0 {
				return nil, io.EOF
			}
			p := id.deferred[0]
			id.deferred = id.deferred[1:]
			return p, nil
		}

		p, err := id.src.Next()
		if err == io.EOF {
			id.eof = true
			if n := len(id.deferred); n > 0 {
				id.session.Logger().Debug("Releasing packets held for reassembly", "packets", n)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		p.Identify(id.session)
		if !p.Complete() {
			id.deferred = append(id.deferred, p)
			continue
		}
		if len(id.deferred) == 0 {
			return p, nil
		}
		id.deferred = append(id.deferred, p)
		id.release()
	}
}

// release moves the completed packets at the front of the deferral buffer
// to the ready queue.
func (id *identifier) release() {
	n := 0
	for n < len(id.deferred) && id.deferred[n].Complete() {
		n++
	}
	id.ready = append(id.ready, id.deferred[:n]...)
	id.deferred = id.deferred[n:]
}
