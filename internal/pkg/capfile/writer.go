package capfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/endorses/pktmunch/internal/pkg/constants"
	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// ErrLinkType is returned when a packet's link type differs from the one in
// the file header.
var ErrLinkType = errors.New("link type differs from capture file")

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("capture writer is closed")

// Config for a Writer.
type Config struct {
	Snaplen int // records are truncated to this many bytes
	// LinkType of the file. Zero takes the link type of the first packet.
	LinkType   layers.LinkType
	Nanosecond bool // nanosecond timestamps instead of microseconds
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Snaplen: constants.DefaultSnaplen}
}

// Writer is a packet.Sink writing a little-endian libpcap file. The global
// header is written with the first packet, or on Close for an empty file.
type Writer struct {
	name   string
	cfg    Config
	file   *os.File
	buf    *bufio.Writer
	w      *pcapgo.Writer
	header bool
	closed bool

	linkType     layers.LinkType
	packetCount  atomic.Int64
	bytesWritten atomic.Int64
}

// Create creates or truncates the file at path.
func Create(path string, cfg Config) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %q: %w", path, err)
	}
	w := NewWriter(f, cfg)
	w.name = path
	w.file = f
	logger.Debug("Created capture file", "file", path, "snaplen", w.cfg.Snaplen, "nanosecond", cfg.Nanosecond)
	return w, nil
}

// NewWriter writes a capture to out. Close flushes but does not close out.
func NewWriter(out io.Writer, cfg Config) *Writer {
	if cfg.Snaplen <= 0 || cfg.Snaplen > constants.MaxSnaplen {
		cfg.Snaplen = constants.DefaultSnaplen
	}
	buf := bufio.NewWriter(out)
	w := &Writer{cfg: cfg, buf: buf, linkType: cfg.LinkType}
	if cfg.Nanosecond {
		w.w = pcapgo.NewWriterNanos(buf)
	} else {
		w.w = pcapgo.NewWriter(buf)
	}
	return w
}

func (w *Writer) writeHeader(lt layers.LinkType) error {
	if err := w.w.WriteFileHeader(uint32(w.cfg.Snaplen), lt); err != nil {
		return fmt.Errorf("failed to write capture header: %w", err)
	}
	w.linkType = lt
	w.header = true
	return nil
}

// WritePacket appends p, truncated to the snaplen.
func (w *Writer) WritePacket(p *packet.Packet) error {
	if w.closed {
		return ErrClosed
	}
	if !w.header {
		lt := w.cfg.LinkType
		if lt == 0 {
			lt = p.LinkType
		}
		if err := w.writeHeader(lt); err != nil {
			return err
		}
	}
	if p.LinkType != w.linkType {
		return fmt.Errorf("%w: %s in a %s file", ErrLinkType, p.LinkType, w.linkType)
	}

	data := p.Data
	if len(data) > w.cfg.Snaplen {
		data = data[:w.cfg.Snaplen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.Timestamp,
		CaptureLength: len(data),
		Length:        max(p.Length, len(data)),
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	w.packetCount.Add(1)
	w.bytesWritten.Add(int64(len(data)))
	return nil
}

// Stats returns current writer statistics
func (w *Writer) Stats() (packetCount, bytesWritten int64) {
	return w.packetCount.Load(), w.bytesWritten.Load()
}

// LinkType is the link type of the file, zero until known.
func (w *Writer) LinkType() layers.LinkType { return w.linkType }

// Close writes the header of an empty file, flushes, and closes the file
// when the writer created it.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if !w.header {
		lt := w.cfg.LinkType
		if lt == 0 {
			lt = layers.LinkTypeEthernet
		}
		errs = append(errs, w.writeHeader(lt))
	}
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush capture file: %w", err))
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close capture file: %w", err))
		}
		logger.Debug("Closed capture file",
			"file", w.name,
			"packets", w.packetCount.Load(),
			"bytes", w.bytesWritten.Load())
	}
	return errors.Join(errs...)
}
