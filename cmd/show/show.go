// Package show prints the identity of every packet in capture files.
package show

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/endorses/pktmunch/internal/pkg/cmdutil"
	"github.com/endorses/pktmunch/internal/pkg/output"
	"github.com/endorses/pktmunch/internal/pkg/packet"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
	"github.com/endorses/pktmunch/internal/pkg/signals"
)

type options struct {
	json       bool
	attributes bool
	count      int
}

// NewCommand returns the show command.
func NewCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "show FILE...",
		Short: "Identify and list packets",
		Long: `Identify the protocol chain of every packet and print one line per packet.

Several files are merged by timestamp. Fragments of an IPv4 datagram are held
back until the datagram is complete, so they are listed with the protocols
of the reassembled payload.

Examples:
  pktmunch show capture.pcap
  pktmunch show --attributes capture.pcap
  pktmunch show --json a.pcap b.pcap | jq .identity`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output one JSON object per packet")
	cmd.Flags().BoolVarP(&opts.attributes, "attributes", "a", false, "Include the attributes of every layer")
	cmd.Flags().IntVarP(&opts.count, "count", "c", 0, "Stop after this many packets (0 for all)")
	return cmd
}

func run(cmd *cobra.Command, args []string, opts options) error {
	ctx, cancel := signals.WithShutdown(cmd.Context())
	defer cancel()

	readers, err := cmdutil.OpenInputs(args)
	if err != nil {
		return err
	}
	defer func() { _ = cmdutil.CloseInputs(readers) }()

	var src packet.Source
	if len(readers) == 1 {
		src = readers[0]
	} else {
		src = pipeline.Merge(cmdutil.Sources(readers), pipeline.MergeOptions{})
	}
	src = pipeline.Identify(src, cmdutil.NewSession())
	if opts.count > 0 {
		src = limit(src, opts.count)
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	printer := &printer{w: out, opts: opts, pretty: opts.json && output.IsTTY()}
	_, err = pipeline.Drain(ctx, src, printer)
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	return err
}

// limit ends src after n packets.
func limit(src packet.Source, n int) packet.Source {
	return packet.SourceFunc(func() (*packet.Packet, error) {
		if n <= 0 {
			return nil, io.EOF
		}
		n--
		return src.Next()
	})
}

// printer is the sink that writes the listing.
type printer struct {
	w      io.Writer
	opts   options
	pretty bool
	index  int
}

func (p *printer) WritePacket(pkt *packet.Packet) error {
	p.index++
	if p.opts.json {
		return output.WriteJSON(p.w, output.NewPacketRecord(p.index, pkt), p.pretty)
	}
	line := pkt.String()
	if p.opts.attributes {
		line = output.Describe(pkt)
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}
