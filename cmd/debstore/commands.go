package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/etnz/debstore/github"
	"github.com/etnz/debstore/manifest"
	"github.com/etnz/debstore/publish"
	"github.com/etnz/debstore/records"
	"github.com/etnz/debstore/suite"
)

// report prints the outcome of a reconciliation.
func report(w io.Writer, name string, cs *suite.Changeset, err error) error {
	if errors.Is(err, suite.ErrNoChange) {
		fmt.Fprintf(w, "%s: unchanged\n", name)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: changeset %d, +%d -%d\n", name, cs.Seq, len(cs.Added), len(cs.Removed))
	return nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at wants an RFC 3339 time: %w", err)
	}
	return t, nil
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <suite> <Packages path or URL>",
		Short: "Make a Packages index the new content of a suite",
		Long: `Import reads a Packages index, possibly compressed with gzip or xz, stores
every stanza as a record and reconciles the suite to exactly those records.
Nothing is written when the index cannot be parsed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.fetcher.Open(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			defer rc.Close()
			cs, err := a.suites.Import(cmd.Context(), args[0], rc)
			return report(cmd.OutOrStdout(), args[0], cs, err)
		},
	}
}

func newImportDebsCmd(a *app) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "import-debs <suite> <file.deb>...",
		Short: "Make a set of .deb archives the new content of a suite",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stanzas := manifest.DebStanzas(cmd.Context(), a.fetcher, args[1:], baseURL)
			cs, err := a.suites.ImportStanzas(cmd.Context(), args[0], stanzas)
			return report(cmd.OutOrStdout(), args[0], cs, err)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "prefix of the Filename field")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		out  string
		sign bool
	)
	cmd := &cobra.Command{
		Use:   "export <suite>",
		Short: "Write a suite as a Packages index, or publish it as a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				if sign {
					return errors.New("--sign needs --out")
				}
				_, err := a.suites.WritePackages(cmd.Context(), args[0], cmd.OutOrStdout())
				return err
			}
			var key string
			if sign {
				if a.manifest.SigningKeyEnv == "" {
					return errors.New("--sign needs signing_key_env in the manifest")
				}
				var err error
				if key, err = a.manifest.SigningKey(); err != nil {
					return err
				}
			}
			return publish.Suite(cmd.Context(), a.suites, args[0], out, a.manifest.ArchiveInfo, key, a.listener)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "publish a flat repository into this directory")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the Release file")
	return cmd
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <package>",
		Short: "List the suites publishing a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locs, err := a.suites.LookupPackage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			derived, err := records.NewDerived(max(len(locs), 1), "")
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, l := range locs {
				rec := &records.Record{ID: l.ID, Package: l.Package, Version: l.Version, Architecture: l.Architecture}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Suite, l.Version, l.Architecture, derived.PURL(rec))
			}
			return tw.Flush()
		},
	}
}

func newLogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log <suite>",
		Short: "Show the changesets of a suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.suites.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, cs := range history {
				fmt.Fprintf(tw, "%d\t%s\t%s\t+%d\t-%d\n",
					cs.Seq, cs.Timestamp.Format(time.RFC3339Nano), cs.ID, len(cs.Added), len(cs.Removed))
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "show <suite>",
		Short: "List the records of a suite, now or at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				members suite.Set
				err     error
			)
			if at == "" {
				members, err = a.suites.CurrentMembership(ctx, args[0])
			} else {
				var t time.Time
				if t, err = parseTime(at); err != nil {
					return err
				}
				members, err = a.suites.MembershipAt(ctx, args[0], t)
			}
			if err != nil {
				return err
			}
			recs, err := a.records.GetMany(ctx, members.Sorted())
			if err != nil {
				return err
			}
			derived, err := records.NewDerived(max(len(recs), 1), "")
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\n", rec.ID, derived.Digest(rec))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to show the suite at")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "rollback <suite>",
		Short: "Restore the content a suite had at a point in time",
		Long: `Rollback appends a changeset restoring the membership the suite had at the
given time. History is kept, so a rollback can itself be rolled back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTime(at)
			if err != nil {
				return err
			}
			cs, err := a.suites.Rollback(cmd.Context(), args[0], t)
			return report(cmd.OutOrStdout(), args[0], cs, err)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to restore")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newSuitesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "suites",
		Short: "List suites and their size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.suites.Suites(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				members, err := a.suites.CurrentMembership(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\n", name, len(members))
			}
			return tw.Flush()
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [suite]...",
		Short: "Bring the suites of the manifest up to date with their sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return errors.New("sync needs a manifest, see --config")
			}
			s := &manifest.Syncer{
				Log:      a.suites,
				Fetcher:  a.fetcher,
				GitHub:   github.NewClient(github.WithToken(a.manifest.GitHubToken())),
				Listener: a.listener,
			}
			return s.Sync(cmd.Context(), a.manifest, args...)
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the document store schema",
		Long:  `Migrate applies pending schema migrations. Every command does so when it opens the store; migrate does nothing else.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.manifest.Store.Driver)
			return nil
		},
	}
}
