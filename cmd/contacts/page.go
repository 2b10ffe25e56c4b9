package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory"
)

func newPageCmd(v *viper.Viper) *cobra.Command {
	var (
		w    directory.Window
		full bool
	)
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Print one page of contacts in display-name order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w.Match = optionalString(cmd, "match")
			return run(cmd, v, func(ctx context.Context, env *cli.Env, out *cli.Output) error {
				cs, err := env.Directory.Page(ctx, w)
				if err != nil {
					return err
				}
				total := 0
				if w.Where == "" {
					if total, err = env.Directory.Count(ctx, w.Match); err != nil {
						return err
					}
				}
				return renderContacts(out, cs, full, w.Offset, w.Limit, total)
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&w.Offset, "offset", 0, "index of the first contact")
	f.IntVar(&w.Limit, "limit", 50, "page size (0 = to the end)")
	f.String("match", "", "only contacts whose display name contains this, ignoring ASCII case")
	f.StringVar(&w.Where, "where", "", `CEL expression a row of the contact must match, e.g. 'kind == "email"'`)
	f.BoolVar(&full, "full", false, "print every field instead of a table")
	return cmd
}

func newCountCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count contacts, optionally only those matching a name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			match := optionalString(cmd, "match")
			return run(cmd, v, func(ctx context.Context, env *cli.Env, out *cli.Output) error {
				n, err := env.Directory.Count(ctx, match)
				if err != nil {
					return err
				}
				kv := out.KV("count").Set("Count", n)
				if match != nil {
					kv.Set("Match", *match)
				}
				return kv.Render()
			})
		},
	}
	cmd.Flags().String("match", "", "only contacts whose display name contains this, ignoring ASCII case")
	return cmd
}

func newGetCmd(v *viper.Viper) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "get ID...",
		Short: "Print contacts by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]contacts.ID, len(args))
			for i, a := range args {
				ids[i] = contacts.ID(a)
			}
			return run(cmd, v, func(ctx context.Context, env *cli.Env, out *cli.Output) error {
				cs, err := env.Directory.PageByIDs(ctx, ids, offset, limit)
				if err != nil {
					return err
				}
				return out.ContactCards(cs).Render()
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many of the given ids")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most this many contacts (0 = all)")
	return cmd
}

func renderContacts(out *cli.Output, cs []*contacts.Contact, full bool, offset, limit, total int) error {
	if full {
		return out.ContactCards(cs).WithWindow(offset, limit, total).Render()
	}
	return out.ContactTable(cs).WithWindow(offset, limit, total).Render()
}

// optionalString returns the flag value, or nil when the flag was not given.
func optionalString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	s, _ := cmd.Flags().GetString(name)
	return &s
}
