package pipeline

import (
	"io"
	"time"

	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// MergeOptions shift the timestamps of merged sources.
type MergeOptions struct {
	// Relative aligns the first packet of every source on Start.
	Relative bool
	// Start is the aligned start time. Zero uses the average of the sources'
	// first timestamps.
	Start time.Time
	// Offset is added to every timestamp.
	Offset time.Duration
}

type merger struct {
	sources []packet.Source
	heads   []*packet.Packet
	shifts  []time.Duration
	opts    MergeOptions
	started bool
}

// Merge interleaves sources by timestamp. Each source is shifted by a
// constant, so a source that is sorted stays sorted and the output is too.
// Equal timestamps are taken from the earliest source.
func Merge(sources []packet.Source, opts MergeOptions) packet.Source {
	return &merger{sources: append([]packet.Source(nil), sources...), opts: opts}
}

func (m *merger) start() error {
	m.started = true
	var firsts []time.Time
	sources := m.sources[:0]
	for _, src := range m.sources {
		p, err := src.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		sources = append(sources, src)
		m.heads = append(m.heads, p)
		firsts = append(firsts, p.Timestamp)
	}
	m.sources = sources
	if len(firsts) == 0 {
		return nil
	}

	base := m.opts.Start
	if base.IsZero() {
		base = averageTime(firsts)
	}
	m.shifts = make([]time.Duration, len(firsts))
	for i, first := range firsts {
		m.shifts[i] = m.opts.Offset
		if m.opts.Relative {
			m.shifts[i] += base.Sub(first)
		}
		m.heads[i].Timestamp = m.heads[i].Timestamp.Add(m.shifts[i])
	}
	logger.Debug("Merging capture sources", "sources", len(m.sources), "relative", m.opts.Relative, "start", base)
	return nil
}

// averageTime averages relative to the first time so that large absolute
// values do not overflow.
func averageTime(ts []time.Time) time.Time {
	var sum time.Duration
	for _, t := range ts[1:] {
		sum += t.Sub(ts[0])
	}
	return ts[0].Add(sum / time.Duration(len(ts)))
}

func (m *merger) Next() (*packet.Packet, error) {
	if !m.started {
		if err := m.start(); err != nil {
			return nil, err
		}
	}
	if len(m.heads) == 0 {
		return nil, io.EOF
	}

	oldest, idx := packet.MaxAge, -1
	for i, h := range m.heads {
		if h.Before(oldest) {
			oldest, idx = h, i
		}
	}
	if idx < 0 {
		// Every head sits at MaxAge; take them in source order.
		idx, oldest = 0, m.heads[0]
	}

	next, err := m.sources[idx].Next()
	switch {
	case err == io.EOF:
		m.heads = append(m.heads[:idx], m.heads[idx+1:]...)
		m.sources = append(m.sources[:idx], m.sources[idx+1:]...)
		m.shifts = append(m.shifts[:idx], m.shifts[idx+1:]...)
	case err != nil:
		return nil, err
	default:
		next.Timestamp = next.Timestamp.Add(m.shifts[idx])
		m.heads[idx] = next
	}
	return oldest, nil
}
