package ipv4

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// fragmentKey identifies the fragments of one datagram.
type fragmentKey struct {
	route gopacket.Flow
	id    uint16
	proto layers.IPProtocol
}

func (dg *Datagram) fragmentKey() fragmentKey {
	return fragmentKey{route: dg.Route(), id: dg.ID(), proto: dg.Protocol()}
}

// fragmentGroup links the fragments of a reassembled datagram.
type fragmentGroup struct {
	members     []*Datagram
	rewrittenBy *identity.HostMap
}

type insertResult int

const (
	deferred insertResult = iota
	inserted
	completed
)

// tracker collects the fragments of one datagram. Fragments are accepted in
// offset order; anything else waits in the deferred list until the gap
// before it is filled.
type tracker struct {
	frags      []*Datagram
	deferred   []*Datagram
	nextOffset int
	lastSeen   time.Time
	count      int
}

func (t *tracker) tryInsert(f *Datagram) insertResult {
	if f.FragmentOffset() != t.nextOffset {
		t.deferred = append(t.deferred, f)
		return deferred
	}
	t.frags = append(t.frags, f)
	t.nextOffset += f.FragmentPayloadLength()
	if !f.MoreFragments() {
		return completed
	}
	return inserted
}

// add inserts f and reports whether the datagram is now complete. Every
// in-order insertion rescans the deferred list until nothing more fits.
func (t *tracker) add(f *Datagram) bool {
	t.count++
	switch t.tryInsert(f) {
	case completed:
		return true
	case deferred:
		return false
	}

	for progress := true; progress; {
		progress = false
		pending := t.deferred
		t.deferred = nil
		for i, p := range pending {
			switch t.tryInsert(p) {
			case completed:
				t.deferred = append(t.deferred, pending[i+1:]...)
				return true
			case inserted:
				progress = true
			}
		}
	}
	return false
}

func (t *tracker) all() []*Datagram {
	out := make([]*Datagram, 0, len(t.frags)+len(t.deferred))
	out = append(out, t.frags...)
	return append(out, t.deferred...)
}

func (d *Dissector) track(s *identity.Session, dg *Datagram) {
	now := s.Now()
	d.expire(s, now)

	key := dg.fragmentKey()
	t, ok := d.trackers[key]
	if !ok {
		if d.cfg.MaxPending > 0 && len(d.trackers) >= d.cfg.MaxPending {
			d.evictOldest(s)
		}
		t = &tracker{}
		d.trackers[key] = t
	}
	t.lastSeen = now

	if !t.add(dg) {
		if d.cfg.MaxFragments > 0 && t.count > d.cfg.MaxFragments {
			d.abandon(s, key, t, "too many fragments")
		}
		return
	}
	delete(d.trackers, key)
	d.reassemble(s, t, dg)
}

// reassemble dissects the joined payload once and gives every fragment the
// same child instance. Fragments still deferred at this point overlap ones
// already inserted; they are settled without a child.
func (d *Dissector) reassemble(s *identity.Session, t *tracker, trigger *Datagram) {
	group := &fragmentGroup{members: t.frags}
	views := make([]memorymap.Part, 0, len(t.frags))
	length := 0
	for _, f := range t.frags {
		length += f.FragmentPayloadLength()
		f.SetCompleted(true)
		views = append(views, f.Payload())
	}

	next := s.InterpretIPProtocol(trigger.Protocol(), memorymap.New(views...), trigger)
	for _, f := range t.frags {
		f.SetNext(next)
		f.logicalLength = length
		f.group = group
	}
	for _, f := range t.deferred {
		f.SetCompleted(true)
	}

	s.Logger().Debug("Reassembled IPv4 datagram",
		"route", trigger.Route().String(),
		"id", trigger.ID(),
		"fragments", len(t.frags),
		"length", length)
}

// Expire abandons datagrams idle for longer than the configured timeout.
func (d *Dissector) Expire(s *identity.Session, now time.Time) { d.expire(s, now) }

func (d *Dissector) expire(s *identity.Session, now time.Time) {
	if d.cfg.Timeout <= 0 {
		return
	}
	for key, t := range d.trackers {
		if now.Sub(t.lastSeen) > d.cfg.Timeout {
			d.abandon(s, key, t, "timeout")
		}
	}
}

func (d *Dissector) evictOldest(s *identity.Session) {
	var (
		oldestKey fragmentKey
		oldest    *tracker
	)
	for key, t := range d.trackers {
		if oldest == nil || t.lastSeen.Before(oldest.lastSeen) {
			oldestKey, oldest = key, t
		}
	}
	if oldest != nil {
		d.abandon(s, oldestKey, oldest, "too many pending datagrams")
	}
}

// abandon gives up on a datagram. Its fragments are settled as complete with
// no child so that packets held back waiting for them are released.
func (d *Dissector) abandon(s *identity.Session, key fragmentKey, t *tracker, reason string) {
	delete(d.trackers, key)
	frags := t.all()
	for _, f := range frags {
		f.SetNext(nil)
		f.SetCompleted(true)
	}
	s.Logger().Warn("Abandoned incomplete IPv4 datagram",
		"route", key.route.String(),
		"id", key.id,
		"fragments", len(frags),
		"reason", reason)
}
