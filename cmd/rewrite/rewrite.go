// Package rewrite replaces host addresses and recomputes checksums in
// capture files.
package rewrite

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/endorses/pktmunch/internal/pkg/cmdutil"
	"github.com/endorses/pktmunch/internal/pkg/hostmap"
	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
	"github.com/endorses/pktmunch/internal/pkg/signals"
)

type options struct {
	output    string
	hostsFile string
	mappings  []string
	checksums bool
}

// NewCommand returns the rewrite command.
func NewCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "rewrite -w OUT IN",
		Short: "Replace host addresses and fix checksums",
		Long: `Identify every packet, replace the MAC, IPv4 and IPv6 addresses named in
the host map, and recompute the checksums of every layer.

The host map is a YAML file with mac, ip4 and ip6 sections mapping an address
to its replacement, plus any --map family:from=to given on the command line.
Fragments of an IPv4 datagram are rewritten together.

Examples:
  pktmunch rewrite -w anon.pcap --hosts hosts.yaml in.pcap
  pktmunch rewrite -w out.pcap --map ip4:192.168.1.100=10.0.0.100 in.pcap
  pktmunch rewrite -w fixed.pcap --checksums in.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "write", "w", "", "Output capture file")
	cmd.Flags().StringVar(&opts.hostsFile, "hosts", "", "Host map file (YAML)")
	cmd.Flags().StringArrayVar(&opts.mappings, "map", nil, "Address mapping family:from=to, family is mac, ip4 or ip6 (repeatable)")
	cmd.Flags().BoolVar(&opts.checksums, "checksums", false, "Recompute checksums even without host mappings")
	_ = cmd.MarkFlagRequired("write")
	return cmd
}

// hostMap builds the host map from the hosts file and the mappings.
func hostMap(hostsFile string, mappings []string) (*identity.HostMap, error) {
	hm := identity.NewHostMap()
	if hostsFile != "" {
		loaded, errs, err := hostmap.Load(hostsFile)
		if err != nil {
			return nil, err
		}
		for _, e := range errs {
			logger.Warn("Skipping host mapping", "file", hostsFile, "error", e)
		}
		hm = loaded
	}

	var errs []error
	for _, m := range mappings {
		errs = append(errs, hostmap.ParseMapping(hm, m))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return hm, nil
}

func run(cmd *cobra.Command, input string, opts options) error {
	hm, err := hostMap(
		cmdutil.GetStringConfig("rewrite.hosts_file", opts.hostsFile),
		cmdutil.GetStringSliceConfig("rewrite.map", opts.mappings),
	)
	if err != nil {
		return err
	}
	checksums := opts.checksums
	if !checksums {
		checksums = cmdutil.GetBoolConfig("rewrite.checksums", false)
	}
	if hm.Len() == 0 && !checksums {
		return errors.New("nothing to rewrite: give --hosts, --map or --checksums")
	}

	ctx, cancel := signals.WithShutdown(cmd.Context())
	defer cancel()

	readers, err := cmdutil.OpenInputs([]string{input})
	if err != nil {
		return err
	}
	defer func() { _ = cmdutil.CloseInputs(readers) }()

	logger.Debug("Rewriting capture", "mappings", hm.Len(), "checksums", checksums)
	src := pipeline.Identify(readers[0], cmdutil.NewSession())
	src = pipeline.Rewrite(src, pipeline.RewriteOptions{Hosts: hm, Checksums: checksums})

	_, err = cmdutil.WriteCapture(ctx, src, opts.output)
	return err
}
