package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/go-linkd/lib/config"
	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/daemon"
	"github.com/go-i2p/go-linkd/lib/util"
)

func newSessionsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored session credentials",
		Long: `Lists the sessions whose credentials are in the configured store. Reads
the store directly, so it works while the daemon is stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store credentials.Store) error {
				metas, err := describeAll(cmd.Context(), store)
				if err != nil {
					return err
				}
				switch output {
				case "yaml":
					return writeYAML(cmd.OutOrStdout(), metas)
				case "table", "":
					return writeTable(cmd.OutOrStdout(), metas)
				default:
					return oops.Errorf("unknown output format %q", output)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", `output format, "table" or "yaml"`)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove CODE...",
		Short: "Remove stored credentials",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store credentials.Store) error {
				for _, code := range args {
					if err := store.Remove(cmd.Context(), code); err != nil {
						return oops.Wrapf(err, "remove %s", code)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", code)
				}
				return nil
			})
		},
	})
	return cmd
}

func withStore(fn func(credentials.Store) error) error {
	var closers util.Closers
	defer func() {
		if err := closers.CloseAll(); err != nil {
			log.WithError(err).Warn("failed to close credential store")
		}
	}()
	store, err := daemon.OpenStore(config.CurrentConfig().Store, &closers)
	if err != nil {
		return err
	}
	return fn(store)
}

func describeAll(ctx context.Context, store credentials.Store) ([]credentials.Meta, error) {
	codes, err := store.List(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "list stored sessions")
	}
	describer, _ := store.(credentials.Describer)

	metas := make([]credentials.Meta, 0, len(codes))
	for _, code := range codes {
		meta := credentials.Meta{Code: code}
		if describer != nil {
			m, ok, err := describer.Describe(ctx, code)
			if err != nil {
				return nil, err
			}
			if ok {
				meta = m
			}
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func writeYAML(w io.Writer, metas []credentials.Meta) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(metas); err != nil {
		return oops.Wrapf(err, "encode sessions")
	}
	return enc.Close()
}

func writeTable(w io.Writer, metas []credentials.Meta) error {
	if len(metas) == 0 {
		_, err := fmt.Fprintln(w, "No stored sessions.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tSIZE\tSEALED\tUPDATED")
	for _, m := range metas {
		updated := "-"
		if !m.UpdatedAt.IsZero() {
			updated = m.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", m.Code, m.Size, strconv.FormatBool(m.Sealed), updated)
	}
	return tw.Flush()
}
