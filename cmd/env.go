package cmd

import "strings"

// envReplacer maps config keys to environment names, so identify.max_flows
// is read from PKTMUNCH_IDENTIFY_MAX_FLOWS.
var envReplacer = strings.NewReplacer(".", "_", "-", "_")
