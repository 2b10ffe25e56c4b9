package main

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
)

// Set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

// buildInfo fills commit and build time from the embedded VCS stamp when
// they were not set at link time.
func buildInfo() (rev, built string, dirty bool) {
	rev, built = commit, buildDate
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return rev, built, false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if rev == "" {
				rev = s.Value
			}
		case "vcs.time":
			if built == "" {
				built = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return rev, built, dirty
}

func newVersionCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rev, built, dirty := buildInfo()
			if rev == "" {
				rev = "unknown"
			} else if dirty {
				rev += "-dirty"
			}
			if built == "" {
				built = "unknown"
			}
			return cli.NewOutput(cli.ParseFormat(v.GetString("output")), cmd.OutOrStdout()).
				KV("version").
				Set("Version", version).
				Set("Commit", rev).
				Set("Built", built).
				Set("Go", runtime.Version()).
				Render()
		},
	}
}
