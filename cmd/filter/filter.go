// Package filter keeps or drops packets by protocol prototype.
package filter

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/endorses/pktmunch/internal/pkg/cmdutil"
	"github.com/endorses/pktmunch/internal/pkg/filtering"
	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/protocols"
	"github.com/endorses/pktmunch/internal/pkg/logger"
	"github.com/endorses/pktmunch/internal/pkg/packet"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
	"github.com/endorses/pktmunch/internal/pkg/signals"
)

type options struct {
	output     string
	deny       []string
	permit     []string
	filterFile string
	save       bool
}

// NewCommand returns the filter command.
func NewCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "filter -w OUT IN...",
		Short: "Keep or drop packets by protocol",
		Long: `Identify every packet and write the ones the rules allow.

A rule is a protocol name with optional attributes, "proto" or
"proto:key=value;key=value". A packet matching any --deny rule is dropped.
If --permit rules are given only packets matching one of them are kept.
Rules are also read from the filter file; --save appends the command line
rules to it.

Examples:
  pktmunch filter -w nodns.pcap --deny udp:dport=53 in.pcap
  pktmunch filter -w web.pcap --permit tcp:dport=443 --permit tcp:sport=443 in.pcap
  pktmunch filter --save --deny arp`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "write", "w", "", "Output capture file")
	cmd.Flags().StringArrayVar(&opts.deny, "deny", nil, "Drop packets matching this prototype (repeatable)")
	cmd.Flags().StringArrayVar(&opts.permit, "permit", nil, "Keep only packets matching a permit prototype (repeatable)")
	cmd.Flags().StringVar(&opts.filterFile, "filter-file", "", "Filter file (default is $HOME/.config/pktmunch/filters.yaml)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Append the command line rules to the filter file")
	return cmd
}

func run(cmd *cobra.Command, args []string, opts options) error {
	if opts.output == "" && !opts.save {
		return errors.New("an output file (-w) or --save is required")
	}
	if opts.output != "" && len(args) == 0 {
		return errors.New("no input files")
	}

	reg := protocols.NewRegistry(cmdutil.ProtocolConfig())
	path := cmdutil.GetStringConfig("filter.file", opts.filterFile)
	if path == "" {
		path = filtering.GetDefaultFilterFilePath()
	}

	cliFilters := commandLineFilters(
		cmdutil.GetStringSliceConfig("filter.deny", opts.deny),
		cmdutil.GetStringSliceConfig("filter.permit", opts.permit),
	)
	cliRules, errs := filtering.Compile(reg, cliFilters)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if opts.save {
		if err := save(path, cliFilters); err != nil {
			return err
		}
		if opts.output == "" {
			return nil
		}
	}

	rules, err := loadRules(reg, path)
	if err != nil {
		return err
	}
	if !opts.save {
		// saved rules are already in the file
		rules.Deny = append(rules.Deny, cliRules.Deny...)
		rules.Permit = append(rules.Permit, cliRules.Permit...)
	}
	logger.Debug("Filter rules", "rules", rules.String())

	return filterCaptures(cmd, args, opts.output, identity.NewSession(reg), rules)
}

// commandLineFilters turns rule flags into enabled filters.
func commandLineFilters(deny, permit []string) []*filtering.FilterYAML {
	var out []*filtering.FilterYAML
	for i, spec := range deny {
		out = append(out, filtering.FromSpec(fmt.Sprintf("deny-%d", i+1), filtering.ActionDeny, spec))
	}
	for i, spec := range permit {
		out = append(out, filtering.FromSpec(fmt.Sprintf("permit-%d", i+1), filtering.ActionPermit, spec))
	}
	return out
}

// loadRules compiles the filter file. Entries that do not load are reported
// and skipped.
func loadRules(reg *identity.Registry, path string) (pipeline.Rules, error) {
	filters, parseErrors, err := filtering.ParseFileWithErrors(path)
	if err != nil {
		return pipeline.Rules{}, err
	}
	rules, compileErrors := filtering.Compile(reg, filters)
	for _, e := range append(parseErrors, compileErrors...) {
		logger.Warn("Skipping filter", "file", path, "error", e)
	}
	if len(filters) > 0 {
		logger.Debug("Loaded filter file", "file", path, "filters", len(filters))
	}
	return rules, nil
}

// save appends filters to the file under fresh IDs.
func save(path string, filters []*filtering.FilterYAML) error {
	if len(filters) == 0 {
		return errors.New("--save needs --deny or --permit rules")
	}
	existing, err := filtering.ParseFile(path)
	if err != nil {
		return err
	}
	for _, f := range filters {
		f.ID = uuid.New().String()
		existing = append(existing, f)
	}
	if err := filtering.WriteFile(path, existing); err != nil {
		return err
	}
	logger.Info("Saved filters", "file", path, "added", len(filters), "total", len(existing))
	return nil
}

func filterCaptures(cmd *cobra.Command, inputs []string, out string, s *identity.Session, rules pipeline.Rules) error {
	ctx, cancel := signals.WithShutdown(cmd.Context())
	defer cancel()

	readers, err := cmdutil.OpenInputs(inputs)
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
	src = pipeline.Filter(pipeline.Identify(src, s), rules)

	_, err = cmdutil.WriteCapture(ctx, src, out)
	return err
}
