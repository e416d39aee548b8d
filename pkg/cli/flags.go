package cli

import (
	"flag"
	"strings"

	"github.com/platinummonkey/rolekeeper/pkg/rbac"
)

// listFlag collects repeated or comma-separated flag values
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// isSet reports whether the named flag was given on the command line
func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// permissionSet turns listed ids into grants
func permissionSet(ids []string) rbac.PermissionSet {
	set := make(rbac.PermissionSet, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
