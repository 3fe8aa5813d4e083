package gosudo

import (
	"fmt"
	"strings"

	"github.com/opsentry/gosudo/internal/environment"
	"github.com/opsentry/gosudo/internal/policy"
	"github.com/opsentry/gosudo/internal/sudoers"
)

// runList implements -l/-ll: run the matcher in enumeration mode and
// print what the queried user may run on this host. -U switches the
// queried user, which only the superuser or the user themselves may
// do.
func runList(opts Options, deps *Deps, store *sudoers.Store, invoker environment.User, groups []string, host string) (int, error) {
	queried := invoker.Name
	if opts.OtherUser != "" && opts.OtherUser != invoker.Name {
		if invoker.UID != 0 {
			return 1, fmt.Errorf("only root may list another user's privileges")
		}
		queried = opts.OtherUser
		groups = nil
	}

	q := policy.Query{InvokerUser: queried, InvokerGroups: groups, Host: host}
	enum := policy.Enumerate(store.Directives, q)

	if len(enum.Rules) == 0 {
		fmt.Fprintf(deps.Out, "User %s is not allowed to run commands on %s.\n", queried, host)
		return 1, nil
	}

	var sb strings.Builder
	if len(enum.Defaults) > 0 {
		fmt.Fprintf(&sb, "Matching Defaults entries for %s on %s:\n", queried, host)
		for _, dl := range enum.Defaults {
			line := sudoers.Unparse(sudoers.Directive{Kind: sudoers.DirDefaults, Defaults: dl})
			fmt.Fprintf(&sb, "    %s\n", strings.TrimPrefix(line, "Defaults "))
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "User %s may run the following commands on %s:\n", queried, host)
	for _, us := range enum.Rules {
		if opts.List == ListLong {
			fmt.Fprintf(&sb, "\nSudoers entry:\n    %s\n",
				sudoers.Unparse(sudoers.Directive{Kind: sudoers.DirUserSpec, UserSpec: us}))
			continue
		}
		fmt.Fprintf(&sb, "    %s\n", sudoers.UnparseCommandSpecs(us.Commands))
	}
	fmt.Fprint(deps.Out, sb.String())
	return 0, nil
}
