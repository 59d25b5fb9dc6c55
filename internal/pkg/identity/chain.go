package identity

import "strings"

// Chain returns the instances from p to the end of its chain.
func Chain(p Protocol) []Protocol {
	var out []Protocol
	for ; p != nil; p = p.Next() {
		out = append(out, p)
	}
	return out
}

// IsComplete reports whether p and every instance after it are complete.
// A nil chain has nothing left to wait for and is complete.
func IsComplete(p Protocol) bool {
	for ; p != nil; p = p.Next() {
		if !p.Completed() {
			return false
		}
	}
	return true
}

// ReplaceHosts rewrites addresses along the chain, outermost first.
func ReplaceHosts(root Protocol, hm *HostMap) {
	if hm == nil {
		return
	}
	for p := root; p != nil; p = p.Next() {
		p.ReplaceHosts(hm)
	}
}

// RecalculateChecksums repairs checksums along the chain, innermost first,
// so transport checksums are final before the headers that carry them are
// summed.
func RecalculateChecksums(root Protocol) {
	chain := Chain(root)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].RecalculateChecksum()
	}
}

// Names renders the chain as "eth/ip4/udp".
func Names(root Protocol) string {
	var names []string
	for p := root; p != nil; p = p.Next() {
		names = append(names, p.Name())
	}
	return strings.Join(names, "/")
}

// Find returns the first instance in the chain with the given name.
func Find(root Protocol, name string) Protocol {
	for p := root; p != nil; p = p.Next() {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
