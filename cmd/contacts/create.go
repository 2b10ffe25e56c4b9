package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/contacts"
)

func newCreateCmd(v *viper.Viper) *cobra.Command {
	var (
		c        = contacts.New("")
		id       string
		fromFile string
		fields   = map[contacts.Kind]*[]string{}
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a contact",
		Long: `Add a contact from flags or from a JSON document (--file, "-" for stdin).
With --file the name flags are ignored; --id and field flags still apply.
Field flags take VALUE or LABEL=VALUE and may be repeated.`,
		Example: `  contacts create --given Ada --family Lovelace --phone home=+44\ 20\ 7946\ 0001
  contacts create --file contact.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile != "" {
				loaded, err := readContact(cmd.InOrStdin(), fromFile)
				if err != nil {
					return err
				}
				c = loaded
			}
			if id != "" {
				c.ID = contacts.ID(id)
			}
			for kind, values := range fields {
				for _, raw := range *values {
					c.Add(kind, parseField(raw))
				}
			}
			return run(cmd, v, func(ctx context.Context, env *cli.Env, out *cli.Output) error {
				created, err := env.Directory.CreateContact(ctx, c)
				if err != nil {
					return err
				}
				return out.Result("create", "contact created").
					With("id", string(created)).
					With("backend", env.Config.Storage.Backend).
					Render()
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&id, "id", "", "contact id (default: random UUID)")
	f.StringVar(&fromFile, "file", "", `read the contact as JSON from this file ("-" for stdin)`)
	f.StringVar(&c.DisplayName, "name", "", "display name (default: built from the name parts)")
	f.StringVar(&c.Identity.Prefix, "prefix", "", "name prefix")
	f.StringVar(&c.Identity.GivenName, "given", "", "given name")
	f.StringVar(&c.Identity.MiddleName, "middle", "", "middle name")
	f.StringVar(&c.Identity.FamilyName, "family", "", "family name")
	f.StringVar(&c.Identity.Suffix, "suffix", "", "name suffix")
	for _, kind := range contacts.Kinds[1:] {
		values := []string{}
		fields[kind] = &values
		f.StringArrayVar(fields[kind], string(kind), nil, fmt.Sprintf("%s field (VALUE or LABEL=VALUE)", kind))
	}
	return cmd
}

func readContact(stdin io.Reader, path string) (*contacts.Contact, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // user-supplied input file
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var c contacts.Contact
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	return &c, nil
}

func parseField(raw string) contacts.Field {
	if label, value, ok := strings.Cut(raw, "="); ok && label != "" {
		return contacts.Field{Label: label, Value: value}
	}
	return contacts.Field{Value: raw}
}
