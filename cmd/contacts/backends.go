package main

import (
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

func newBackendsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the contact store backends and their default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cli.NewOutput(cli.ParseFormat(v.GetString("output")), cmd.OutOrStdout())
			t := out.Table("backends", "Name", "Defaults").MaxWidth("Defaults", 72)
			for _, name := range physical.ListBackends() {
				t.AddRow(name, formatDefaults(physical.GetDefaults(name)))
			}
			return t.Render()
		},
	}
}

func formatDefaults(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}
