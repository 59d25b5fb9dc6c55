package pipeline

import (
	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// RewriteOptions select the in-place edits of Rewrite.
type RewriteOptions struct {
	Hosts     *identity.HostMap
	Checksums bool
}

// Rewrite replaces host addresses and recomputes checksums of identified
// packets. Replacing hosts always recomputes checksums. Packets are edited
// in place.
func Rewrite(src packet.Source, opts RewriteOptions) packet.Source {
	hosts := opts.Hosts
	if hosts != nil && hosts.Len() == 0 {
		hosts = nil
	}
	checksums := opts.Checksums || hosts != nil

	return packet.SourceFunc(func() (*packet.Packet, error) {
		p, err := src.Next()
		if err != nil {
			return nil, err
		}
		if hosts != nil {
			identity.ReplaceHosts(p.Identity, hosts)
		}
		if checksums {
			identity.RecalculateChecksums(p.Identity)
		}
		return p, nil
	})
}
