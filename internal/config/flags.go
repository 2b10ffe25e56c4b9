package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// binding ties a command-line flag to the config key it overrides. An empty
// key leaves the flag unbound (read directly by the command).
type binding struct {
	flag  string
	key   string
	usage string
	def   any
}

var rootFlags = []binding{
	{"config", "", "config file path", ""},
	{"data-dir", "data_dir", "data directory (default ~/.contacts)", ""},
	{"backend", "storage.backend", "contact store backend (memory, sqlite, badger, redis)", ""},
	{"log-level", "observability.log_level", "log level (debug, info, warn, error)", ""},
	{"log-format", "observability.log_format", "log format (json, text)", ""},
}

var serveFlags = []binding{
	{"addr", "bridge.addr", "HTTP bridge listen address", ""},
	{"metrics-addr", "observability.metrics_addr", "metrics HTTP listen address", ""},
	{"page-cache", "directory.page_cache.enabled", "keep a background-refreshed cache of the first page", true},
}

func bind(fs *pflag.FlagSet, v *viper.Viper, flags []binding) {
	for _, b := range flags {
		switch def := b.def.(type) {
		case bool:
			fs.Bool(b.flag, def, b.usage)
		case string:
			fs.String(b.flag, def, b.usage)
		}
		if b.key != "" {
			_ = v.BindPFlag(b.key, fs.Lookup(b.flag))
		}
	}
}

// BindCommonFlags registers the persistent flags every subcommand inherits.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	bind(cmd.PersistentFlags(), v, rootFlags)
}

// BindServeFlags registers the serve command's flags.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	bind(cmd.Flags(), v, serveFlags)
}
