package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/endorses/pktmunch/internal/pkg/capfile"
	"github.com/endorses/pktmunch/internal/pkg/constants"
	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/ipv4"
	"github.com/endorses/pktmunch/internal/pkg/identity/protocols"
	"github.com/endorses/pktmunch/internal/pkg/identity/tcp"
	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/packet"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
)

// ProtocolConfig returns the dissector bounds from the identify.* keys.
func ProtocolConfig() protocols.Config {
	return protocols.Config{
		Fragments: ipv4.Config{
			Timeout:      GetDurationConfig("identify.fragment_timeout", constants.DefaultFragmentTimeout),
			MaxPending:   GetIntConfig("identify.max_pending_fragments", constants.DefaultMaxPendingFragments),
			MaxFragments: constants.MaxFragmentsPerDatagram,
		},
		Flows: tcp.Config{
			MaxFlows:    GetIntConfig("identify.max_flows", constants.DefaultMaxFlows),
			IdleTimeout: constants.DefaultFlowIdleTimeout,
		},
	}
}

// NewSession returns a session over a registry of every protocol,
// configured from the identify.* keys.
func NewSession() *identity.Session {
	return identity.NewSession(protocols.NewRegistry(ProtocolConfig()))
}

// CaptureConfig returns the writer settings from the output.* keys. The
// snaplen accepts size suffixes such as "64K".
func CaptureConfig() (capfile.Config, error) {
	cfg := capfile.DefaultConfig()
	if s := GetStringConfig("output.snaplen", ""); s != "" {
		n, err := ParseSizeString(s)
		if err != nil {
			return cfg, fmt.Errorf("output.snaplen: %w", err)
		}
		if n == 0 || n > constants.MaxSnaplen {
			return cfg, fmt.Errorf("output.snaplen: %d is outside 1..%d", n, constants.MaxSnaplen)
		}
		cfg.Snaplen = int(n)
	}
	cfg.Nanosecond = viper.GetBool("output.nanosecond")
	return cfg, nil
}

// OpenInputs opens every capture file. Nothing stays open on error.
func OpenInputs(paths []string) ([]*capfile.Reader, error) {
	readers := make([]*capfile.Reader, 0, len(paths))
	for _, path := range paths {
		r, err := capfile.Open(path)
		if err != nil {
			_ = CloseInputs(readers)
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

// CloseInputs closes every reader.
func CloseInputs(readers []*capfile.Reader) error {
	var errs []error
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// Sources adapts readers to the pipeline.
func Sources(readers []*capfile.Reader) []packet.Source {
	out := make([]packet.Source, len(readers))
	for i, r := range readers {
		out[i] = r
	}
	return out
}

// WriteCapture drains src into a new capture file at path.
func WriteCapture(ctx context.Context, src packet.Source, path string) (int, error) {
	cfg, err := CaptureConfig()
	if err != nil {
		return 0, err
	}
	w, err := capfile.Create(path, cfg)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := pipeline.Drain(ctx, src, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}

	_, bytes := w.Stats()
	logger.Info("Wrote capture file",
		"file", path,
		"packets", n,
		"bytes", bytes,
		"duration", time.Since(start).Round(time.Millisecond))
	return n, nil
}
