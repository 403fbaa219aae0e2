package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/config"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/integrity"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/store"
)

func newCheckAttachmentsCmd() *cobra.Command {
	var (
		opts   integrity.Options
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "check-attachments",
		Short: "Compare attachment rows with stored files",
		Long: `Check that every attachment row points at an existing file of the recorded
size, and that no file under the attachment prefix is left without a row.
Exits non-zero while problems remain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Read()
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			blobs, err := openBlobs(ctx, cfg)
			if err != nil {
				return fmt.Errorf("blob store init: %w", err)
			}

			report, err := integrity.NewChecker(store.NewPGStore(db), blobs, newLogger(cfg)).Run(ctx, opts)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if n := report.Issues(); n > 0 {
				return fmt.Errorf("attachment check found %d problem(s)", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.FixSizes, "fix-sizes", false, "update recorded sizes to match stored files")
	cmd.Flags().BoolVar(&opts.DeleteOrphans, "delete-orphans", false, "delete files no attachment row references")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r integrity.Report) {
	fmt.Fprintf(w, "checked attachments: %d\n", r.Checked)
	for _, f := range r.FixedSizes {
		fmt.Fprintf(w, "fixed size of attachment #%d (%s): %d -> %d bytes\n", f.ID, f.Key, f.StoredSize, f.ActualSize)
	}
	for _, key := range r.DeletedOrphans {
		fmt.Fprintf(w, "deleted orphan %s\n", key)
	}
	for _, m := range r.MissingFiles {
		key := m.Key
		if key == "" {
			key = "<no path>"
		}
		fmt.Fprintf(w, "missing file for attachment #%d (%s): %s\n", m.ID, key, m.Reason)
	}
	for _, m := range r.SizeMismatches {
		fmt.Fprintf(w, "size mismatch for attachment #%d (%s): recorded %d, stored %d bytes\n", m.ID, m.Key, m.StoredSize, m.ActualSize)
	}
	for _, key := range r.Orphans {
		fmt.Fprintf(w, "orphan file %s\n", key)
	}
	if r.Issues() == 0 {
		fmt.Fprintln(w, "all attachments match the database")
	}
}
