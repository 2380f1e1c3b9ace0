package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jms/internal/backup"
	"jms/internal/database"
	"jms/internal/email"
	"jms/internal/reports"
)

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

// addDataCommands registers the maintenance commands that work on the
// database directly, without the HTTP server.
func addDataCommands(root *cobra.Command, withApp appRunner) {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the database and seed defaults",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			stats, err := a.store.GetAdminStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s (%d items, %d shops, %d users)\n",
				a.store.Path(), stats.TotalItems, stats.TotalShops, stats.TotalUsers)
			return nil
		}),
	}

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped copy of the database to the backup directory",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			path, err := a.backups.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}

	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			files, err := a.backups.ListBackups()
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", f.Name, f.Size, f.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		}),
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the database with a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.backups.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", args[0])
			return nil
		}),
	}

	var exportFormat string
	exportCmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export every table to JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			switch exportFormat {
			case "json":
				info, err := a.backups.ExportJSON(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d tables (%d rows) to %s\n", info.TableCount, info.TotalRows, args[0])
			case "csv":
				files, err := a.backups.ExportCSV(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
			default:
				return fmt.Errorf("unknown export format %q", exportFormat)
			}
			return nil
		}),
	}
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "export format (json or csv)")

	var importFormat, importPolicy string
	importCmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a JSON export or a set of CSV files",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			manager := a.backups
			if importPolicy != "" {
				policy, err := backup.ParsePolicy(importPolicy)
				if err != nil {
					return err
				}
				manager = manager.WithPolicy(policy)
			}

			var (
				report *backup.ImportReport
				err    error
			)
			switch importFormat {
			case "json":
				report, err = manager.ImportJSON(cmd.Context(), args[0])
			case "csv":
				report, err = manager.ImportCSV(cmd.Context(), args[0])
			default:
				return fmt.Errorf("unknown import format %q", importFormat)
			}
			if report != nil {
				printImportReport(cmd, report)
			}
			return err
		}),
	}
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "json", "import format (json or csv)")
	importCmd.Flags().StringVarP(&importPolicy, "policy", "p", "", "best-effort or all-or-nothing (defaults to the configured policy)")

	barcodeCmd := &cobra.Command{
		Use:   "barcode",
		Short: "Inspect or reset the barcode sequence",
	}
	barcodeCmd.AddCommand(
		&cobra.Command{
			Use:   "next",
			Short: "Show the barcode the next allocation will return",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				next, err := a.store.PeekBarcode(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), next)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset <next>",
			Short: "Set the next barcode to allocate",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				next, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid barcode %q", args[0])
				}
				if err := a.store.ResetBarcodeSequence(cmd.Context(), next); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Next barcode is %d\n", next)
				return nil
			}),
		},
	)

	masterKeysCmd := &cobra.Command{
		Use:   "master-keys",
		Short: "Manage one-time administrator recovery keys",
	}
	masterKeysCmd.AddCommand(
		&cobra.Command{
			Use:   "generate <count>",
			Short: "Generate new recovery keys and print them once",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				count, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid count %q", args[0])
				}
				keys, err := a.store.GenerateMasterKeys(cmd.Context(), count)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show how many recovery keys remain",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				stats, err := a.store.MasterKeyStats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "total %d, used %d, remaining %d\n", stats.Total, stats.Used, stats.Remaining)
				return nil
			}),
		},
	)

	resetPasswordCmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Reset the administrator account to the default password",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.store.EnsureDefaultUser(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s reset to the default\n", database.DefaultAdminUsername)
			return nil
		}),
	}

	var confirmed bool
	factoryResetCmd := &cobra.Command{
		Use:   "factory-reset",
		Short: "Back up, then delete all data and reseed defaults",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to wipe data without --yes")
			}
			path, err := a.backups.Backup(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.store.FactoryReset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All data removed, backup at %s\n", path)
			return nil
		}),
	}
	factoryResetCmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")

	var (
		threshold int
		notify    bool
	)
	lowStockCmd := &cobra.Command{
		Use:   "low-stock",
		Short: "List items at or below the stock threshold",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.LowStockThreshold
			}
			levels, err := reports.NewService(a.store).LowStock(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			columns, rows := reports.LowStockRows(levels)
			if err := reports.WriteCSV(cmd.OutOrStdout(), columns, rows); err != nil {
				return err
			}
			if notify {
				return email.NewService(a.cfg).SendLowStockDigest(threshold, levels)
			}
			return nil
		}),
	}
	lowStockCmd.Flags().IntVarP(&threshold, "threshold", "t", 0, "stock threshold (defaults to the configured value)")
	lowStockCmd.Flags().BoolVar(&notify, "notify", false, "mail the list to the alert recipient")

	root.AddCommand(initCmd, backupCmd, backupsCmd, restoreCmd, exportCmd, importCmd,
		barcodeCmd, masterKeysCmd, resetPasswordCmd, factoryResetCmd, lowStockCmd)
}

func printImportReport(cmd *cobra.Command, report *backup.ImportReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Policy: %s\n", report.Policy)
	for _, t := range report.Tables {
		switch {
		case t.Skipped:
			fmt.Fprintf(out, "  %-16s skipped\n", t.Table)
		case t.Error != "":
			fmt.Fprintf(out, "  %-16s FAILED: %s\n", t.Table, t.Error)
		default:
			fmt.Fprintf(out, "  %-16s %d rows\n", t.Table, t.Rows)
		}
	}
	fmt.Fprintf(out, "Imported %d rows, %d tables failed\n", report.TotalRows(), len(report.Failed()))
}
