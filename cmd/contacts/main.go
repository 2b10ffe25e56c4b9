package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/config"
	"github.com/gezibash/arc-contacts/internal/directory"
	celeval "github.com/gezibash/arc-contacts/internal/directory/cel"
	_ "github.com/gezibash/arc-contacts/internal/directory/physical/badger"
	_ "github.com/gezibash/arc-contacts/internal/directory/physical/memory"
	_ "github.com/gezibash/arc-contacts/internal/directory/physical/redis"
	_ "github.com/gezibash/arc-contacts/internal/directory/physical/sqlite"
)

func main() {
	v := viper.New()
	cmd, err := newRootCmd(v).ExecuteC()
	if err != nil {
		out := cli.NewOutput(cli.ParseFormat(v.GetString("output")), os.Stderr)
		_ = reportError(out, cmd.Name(), err)
		os.Exit(1)
	}
}

// reportError renders err as the result of the named command.
func reportError(out *cli.Output, command string, err error) error {
	e := out.Error(command, err)
	if code := errorCode(err); code != "" {
		e.WithCode(code)
	}
	var mut *directory.MutationError
	if errors.As(err, &mut) {
		e.With("contact_id", string(mut.ContactID))
	}
	return e.Render()
}

// errorCode classifies the errors a user can act on.
func errorCode(err error) string {
	var mut *directory.MutationError
	switch {
	case errors.Is(err, directory.ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, directory.ErrInvalidContact):
		return "invalid_contact"
	case errors.Is(err, celeval.ErrInvalidExpression):
		return "invalid_expression"
	case errors.As(err, &mut):
		return "store_write"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return ""
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "contacts",
		Short:         "Page through a display-name ordered contact directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindCommonFlags(rootCmd, v)
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "abort the command after this long (0 = no limit)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(
		newServeCmd(v),
		newPageCmd(v),
		newCountCmd(v),
		newGetCmd(v),
		newCreateCmd(v),
		newSeedCmd(v),
		newBackendsCmd(v),
		newVersionCmd(v),
	)
	return rootCmd
}

// run executes fn against an Env built from the command's flags.
func run(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, env *cli.Env, out *cli.Output) error) error {
	configFile, _ := cmd.Flags().GetString("config")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return cli.RunCommand(ctx, cli.CommandConfig{
		Viper:      v,
		ConfigFile: configFile,
		Timeout:    timeout,
		Out:        cmd.OutOrStdout(),
		Run:        fn,
	})
}
