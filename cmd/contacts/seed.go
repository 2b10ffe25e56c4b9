package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

var (
	seedGiven  = []string{"Ada", "alan", "Barbara", "Claude", "Dennis", "Edsger", "Émilie", "frances", "Grace", "Hedy", "Ken", "Linus", "Margaret", "Niklaus", "Radia", "Tim", "Ørjan", "Zoë"}
	seedFamily = []string{"Lovelace", "Turing", "Liskov", "Shannon", "Ritchie", "Dijkstra", "du Châtelet", "Allen", "Hopper", "Lamarr", "Thompson", "Torvalds", "Hamilton", "Wirth", "Perlman", "Berners-Lee", "Ångström"}
)

type seedOptions struct {
	count   int
	fields  int
	batch   int
	workers int
}

func newSeedCmd(v *viper.Viper) *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the store with synthetic contacts for load testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v, func(ctx context.Context, env *cli.Env, out *cli.Output) error {
				start := time.Now()
				rows, err := seedContacts(ctx, env.Backend, opts)
				if err != nil {
					return err
				}
				env.Directory.Reset()
				return out.Result("seed", "contacts seeded").
					With("contacts", opts.count).
					With("rows", rows).
					With("backend", env.Config.Storage.Backend).
					With("elapsed", time.Since(start).Round(time.Millisecond).String()).
					Render()
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.count, "count", 1000, "number of contacts")
	f.IntVar(&opts.fields, "fields", 3, "rows per contact (one name row plus phone and email rows)")
	f.IntVar(&opts.batch, "batch", 5000, "rows per write batch")
	f.IntVar(&opts.workers, "workers", 4, "concurrent write batches")
	return cmd
}

// seedContacts writes opts.count generated contacts in batches of about
// opts.batch rows and returns the number of rows written.
func seedContacts(ctx context.Context, be physical.Backend, opts seedOptions) (int, error) {
	if opts.count < 0 || opts.fields < 1 || opts.batch < 1 || opts.workers < 1 {
		return 0, fmt.Errorf("invalid seed options: count %d, fields %d, batch %d, workers %d",
			opts.count, opts.fields, opts.batch, opts.workers)
	}

	var written atomic.Int64
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(opts.workers)
	ops := make([]physical.Op, 0, opts.batch)
	flush := func() {
		batch := ops
		ops = make([]physical.Op, 0, opts.batch)
		p.Go(func(ctx context.Context) error {
			if err := be.ApplyBatch(ctx, batch); err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
			written.Add(int64(len(batch)))
			return nil
		})
	}

	for i := range opts.count {
		if ctx.Err() != nil {
			break
		}
		for _, row := range syntheticContact(i, opts.fields).Rows() {
			ops = append(ops, physical.Op{Type: physical.OpInsert, Row: row})
		}
		if len(ops) >= opts.batch {
			flush()
		}
	}
	if len(ops) > 0 {
		flush()
	}
	err := p.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(written.Load()), err
}

// syntheticContact returns the i-th generated contact with fields rows.
func syntheticContact(i, fields int) *contacts.Contact {
	given := seedGiven[i%len(seedGiven)]
	family := seedFamily[(i/len(seedGiven))%len(seedFamily)]
	c := contacts.New(contacts.ID(uuid.NewString()))
	c.Identity = contacts.Identity{GivenName: given, FamilyName: family}
	c.DisplayName = c.Identity.FullName()
	for f := 1; f < fields; f++ {
		if f%2 == 1 {
			c.Add(contacts.KindPhone, contacts.Field{Label: "mobile", Value: fmt.Sprintf("+1 555 %04d %03d", i%10000, f)})
		} else {
			local := strings.ToLower(strings.ReplaceAll(given+"."+family, " ", ""))
			c.Add(contacts.KindEmail, contacts.Field{Value: fmt.Sprintf("%s%d.%d@example.com", local, i, f)})
		}
	}
	return c
}
