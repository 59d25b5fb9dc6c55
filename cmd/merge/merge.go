// Package merge combines capture files into one, ordered by timestamp.
package merge

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/endorses/pktmunch/internal/pkg/cmdutil"
	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
	"github.com/endorses/pktmunch/internal/pkg/signals"
)

type options struct {
	output   string
	relative bool
	start    string
	offset   time.Duration
}

// NewCommand returns the merge command.
func NewCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "merge -w OUT IN...",
		Short: "Merge capture files by timestamp",
		Long: `Merge capture files into one, interleaving packets by timestamp.

With --relative every input is shifted so that its first packet lands on the
start time: --start, or the average of the inputs' first timestamps. --offset
is added to every timestamp in both modes.

Examples:
  pktmunch merge -w all.pcap a.pcap b.pcap
  pktmunch merge -w aligned.pcap --relative --start 2024-03-05T14:30:00Z a.pcap b.pcap
  pktmunch merge -w later.pcap --offset 1h a.pcap`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mo, err := mergeOptions(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd, args, opts.output, mo)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "write", "w", "", "Output capture file")
	cmd.Flags().BoolVar(&opts.relative, "relative", false, "Align the first packet of every input")
	cmd.Flags().StringVar(&opts.start, "start", "", "Start time for --relative (RFC 3339)")
	cmd.Flags().DurationVar(&opts.offset, "offset", 0, "Shift every timestamp by this much")
	_ = cmd.MarkFlagRequired("write")
	return cmd
}

// mergeOptions resolves flags against the merge.* config keys. Flags given
// on the command line win.
func mergeOptions(cmd *cobra.Command, opts options) (pipeline.MergeOptions, error) {
	var mo pipeline.MergeOptions

	mo.Relative = opts.relative
	if !cmd.Flags().Changed("relative") {
		mo.Relative = cmdutil.GetBoolConfig("merge.relative", opts.relative)
	}

	if s := cmdutil.GetStringConfig("merge.start", opts.start); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return mo, fmt.Errorf("invalid start time %q: %w", s, err)
		}
		mo.Start = t
	}

	mo.Offset = opts.offset
	if !cmd.Flags().Changed("offset") {
		mo.Offset = cmdutil.GetDurationConfig("merge.offset", opts.offset)
	}
	return mo, nil
}

func run(cmd *cobra.Command, inputs []string, out string, mo pipeline.MergeOptions) error {
	ctx, cancel := signals.WithShutdown(cmd.Context())
	defer cancel()

	readers, err := cmdutil.OpenInputs(inputs)
	if err != nil {
		return err
	}
	defer func() { _ = cmdutil.CloseInputs(readers) }()

	logger.Debug("Merging captures",
		"inputs", len(inputs),
		"relative", mo.Relative,
		"start", mo.Start,
		"offset", mo.Offset)

	_, err = cmdutil.WriteCapture(ctx, pipeline.Merge(cmdutil.Sources(readers), mo), out)
	return err
}
