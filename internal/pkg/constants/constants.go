// Package constants provides shared constants used across pktmunch components.
package constants

import "time"

// Capture file defaults
const (
	// DefaultSnaplen is the snapshot length written to new capture files
	DefaultSnaplen = 65535

	// MaxSnaplen caps user supplied snapshot lengths
	MaxSnaplen = 262144
)

// IPv4 fragment reassembly bounds
//
// Fragment entries live in a per-session tracker. A lost final fragment would
// otherwise keep its siblings parked until the end of the run, so entries are
// abandoned after DefaultFragmentTimeout of capture time, or when more than
// DefaultMaxPendingFragments datagrams are waiting (oldest first).
const (
	// DefaultFragmentTimeout is measured against packet timestamps, not wall time
	DefaultFragmentTimeout = 30 * time.Second

	// DefaultMaxPendingFragments is the number of datagrams reassembled concurrently
	DefaultMaxPendingFragments = 1024

	// MaxFragmentsPerDatagram bounds the fragments of a single datagram
	MaxFragmentsPerDatagram = 8192
)

// TCP flow correlation bounds
const (
	// DefaultMaxFlows is the number of flows tracked per session
	DefaultMaxFlows = 10000

	// DefaultFlowIdleTimeout expires flows not seen for this long (capture time)
	DefaultFlowIdleTimeout = 5 * time.Minute
)

// Channel buffer sizes
const (
	// SignalChannelBuffer is the buffer size for OS signal channels
	SignalChannelBuffer = 1
)
