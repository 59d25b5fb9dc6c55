package identity

import (
	"log/slog"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// Session is one dissection pass over a packet stream. It owns one dissector
// per protocol name and therefore all cross-packet state (IPv4 fragment
// trackers, TCP flows). Sessions are independent; a single Session must not
// be used from several goroutines at once.
type Session struct {
	ID string

	registry   *Registry
	dissectors map[string]Dissector
	now        time.Time
	log        *slog.Logger
}

// NewSession starts a session over reg.
func NewSession(reg *Registry) *Session {
	id := uuid.NewString()
	return &Session{
		ID:         id,
		registry:   reg,
		dissectors: map[string]Dissector{},
		log:        logger.With("component", "identity", "session", id),
	}
}

func (s *Session) Registry() *Registry { return s.registry }

// Logger returns the session scoped logger.
func (s *Session) Logger() *slog.Logger { return s.log }

// Now returns the timestamp of the packet being identified. Dissectors
// measure timeouts against it, so results do not depend on wall time.
func (s *Session) Now() time.Time { return s.now }

// Dissector returns the session's dissector for name, creating it on first
// use. Unregistered names resolve to Unknown.
func (s *Session) Dissector(name string) Dissector {
	if d, ok := s.dissectors[name]; ok {
		return d
	}
	d := s.registry.Factory(name)()
	s.dissectors[name] = d
	return d
}

// Interpret dissects data as the named protocol. A format error ends the
// chain: it is logged and nil is returned.
func (s *Session) Interpret(name string, data *memorymap.Map, parent Protocol) Protocol {
	p, err := s.Dissector(name).Interpret(s, data, parent)
	if err != nil {
		s.log.Debug("Dissection stopped", "protocol", name, "error", err)
		return nil
	}
	return p
}

// InterpretEtherType dissects an Ethernet payload. Unregistered ethertypes
// leave the chain unextended.
func (s *Session) InterpretEtherType(et layers.EthernetType, data *memorymap.Map, parent Protocol) Protocol {
	name, ok := s.registry.EtherType(et)
	if !ok {
		return nil
	}
	return s.Interpret(name, data, parent)
}

// InterpretIPProtocol dissects an IPv4 or IPv6 payload. Unregistered
// protocol numbers leave the chain unextended.
func (s *Session) InterpretIPProtocol(p layers.IPProtocol, data *memorymap.Map, parent Protocol) Protocol {
	name, ok := s.registry.IPProtocol(p)
	if !ok {
		return nil
	}
	return s.Interpret(name, data, parent)
}

// Identify dissects a captured frame of link type lt captured at ts. The
// returned chain views frame, so rewriting it rewrites frame. An
// unregistered link type yields nil.
func (s *Session) Identify(lt layers.LinkType, frame []byte, ts time.Time) Protocol {
	if ts.After(s.now) {
		s.now = ts
		s.expire()
	}
	name, ok := s.registry.LinkType(lt)
	if !ok {
		return nil
	}
	return s.Interpret(name, memorymap.Of(frame), nil)
}

func (s *Session) expire() {
	for _, d := range s.dissectors {
		if e, ok := d.(Expirer); ok {
			e.Expire(s, s.now)
		}
	}
}

// Reset drops the cross-packet state of every dissector used so far.
func (s *Session) Reset() {
	for _, d := range s.dissectors {
		d.ResetState()
	}
	s.now = time.Time{}
}
