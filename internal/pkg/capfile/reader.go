// Package capfile reads and writes libpcap capture files.
package capfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// ErrFormat wraps malformed or truncated capture data.
var ErrFormat = errors.New("invalid capture file")

// Reader is a packet.Source over a capture file. Both byte orders and
// microsecond or nanosecond timestamps are accepted; gzip compressed files
// are decompressed transparently.
type Reader struct {
	name   string
	closer io.Closer
	r      *pcapgo.Reader
	count  int
}

// Open opens the capture file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", path, err)
	}
	r, err := newReader(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	logger.Debug("Opened capture file", "file", path, "link_type", r.LinkType().String())
	return r, nil
}

// NewReader reads a capture from r. The global header is read immediately.
func NewReader(r io.Reader) (*Reader, error) {
	return newReader("", r)
}

func newReader(name string, r io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header: %v", ErrFormat, displayName(name), err)
	}
	return &Reader{name: name, r: pr}, nil
}

func displayName(name string) string {
	if name == "" {
		return "stream"
	}
	return name
}

// LinkType is the network field of the global header.
func (r *Reader) LinkType() layers.LinkType { return r.r.LinkType() }

// Snaplen is the snapshot length of the global header.
func (r *Reader) Snaplen() int { return int(r.r.Snaplen()) }

// Next returns the next packet, or io.EOF after the last one. A record cut
// short by the end of the file is a format error.
func (r *Reader) Next() (*packet.Packet, error) {
	data, ci, err := r.r.ReadPacketData()
	switch {
	case err == io.EOF && ci.CaptureLength == 0:
		return nil, io.EOF
	case err != nil:
		return nil, fmt.Errorf("%w: %s: record %d: %v", ErrFormat, displayName(r.name), r.count+1, err)
	}
	r.count++
	return &packet.Packet{
		Timestamp: ci.Timestamp,
		LinkType:  r.r.LinkType(),
		Length:    ci.Length,
		Data:      data,
	}, nil
}

// Close closes the underlying file when the reader opened it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
