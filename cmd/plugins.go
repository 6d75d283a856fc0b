// File: cmd/plugins.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plancheck/internal/observability"
	"github.com/xkilldash9x/plancheck/internal/plugins"
	"github.com/xkilldash9x/plancheck/internal/registry"
)

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the registered providers, user managers and extension modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := plugins.NewRegistry(observability.GetLogger())
			if err != nil {
				return err
			}
			return printRegistry(cmd.OutOrStdout(), reg)
		},
	}
}

func printRegistry(out io.Writer, reg *registry.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "PROVIDER\tNAMESPACES\tCAPABILITIES")
	for _, p := range reg.Providers() {
		caps := make([]string, len(p.Capabilities))
		for i, c := range p.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(p.Namespaces, ","), strings.Join(caps, ","))
	}

	fmt.Fprintln(w, "\nUSER MANAGER\tPRIORITY\tSTATIC CONTEXT")
	for _, m := range reg.UserManagers() {
		fmt.Fprintf(w, "%s\t%d\t%t\n", m.Name, m.Priority, m.UsesStaticContext)
	}

	modules, err := reg.Modules(nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nMODULE\t\t")
	for _, m := range modules {
		fmt.Fprintf(w, "%s\t\t\n", m.Name)
	}
	return w.Flush()
}
