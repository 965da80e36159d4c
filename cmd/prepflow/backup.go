package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"prepflow-go/internal/backup"
	"prepflow-go/internal/model"
)

// export flags
var (
	exportUser     string
	exportMode     string
	exportPassword string
	exportOutput   string
	exportUpload   bool
	exportJSON     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a user's data as an encrypted backup",
	Long:  `Export every backed-up table owned by --user into an encrypted container, written to --output or uploaded to the configured storage with --upload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		if exportUpload {
			res, err := rt.Service.ExportAndUpload(ctx, backup.ExportRequest{
				UserID:         exportUser,
				EncryptionMode: exportMode,
				Password:       exportPassword,
			})
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			if exportJSON {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			fmt.Printf("Backup uploaded: %s\n", res.Filename)
			fmt.Printf("Backup id: %s\n", res.BackupID)
			fmt.Printf("Handle: %s\n", res.FileID)
			fmt.Printf("Size: %s\n", humanize.IBytes(uint64(res.SizeBytes)))
			printCounts(res.RecordCounts)
			return nil
		}

		mode, err := backup.ParseMode(exportMode, exportPassword)
		if err != nil {
			return err
		}
		data, payload, err := rt.Service.Export(ctx, exportUser, mode)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		out := exportOutput
		if out == "" {
			out = backup.BackupFilename(exportUser, payload.ExportedAt)
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return err
		}
		if exportJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"file":         out,
				"sizeBytes":    len(data),
				"recordCounts": payload.Metadata.RecordCounts,
			})
		}
		fmt.Printf("Backup written: %s\n", out)
		fmt.Printf("Size: %s\n", humanize.IBytes(uint64(len(data))))
		printCounts(payload.Metadata.RecordCounts)
		return nil
	},
}

// restore flags
var (
	restoreUser     string
	restoreMode     string
	restoreTables   []string
	restorePolicy   string
	restorePassword string
	restoreJSON     bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore a user's data from an encrypted backup",
	Long:  `Decrypt a backup container and write its records back for --user using the full, selective or merge strategy.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts *model.MergeOptions
		if restorePolicy != "" {
			opts = &model.MergeOptions{Default: model.MergePolicy(restorePolicy)}
		}
		strategy, err := backup.ParseStrategy(restoreMode, restoreTables, opts)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		res, err := rt.Service.RestoreBytes(ctx, restoreUser, data, restorePassword, strategy)
		if res != nil {
			if restoreJSON {
				if encErr := json.NewEncoder(os.Stdout).Encode(res); encErr != nil {
					return encErr
				}
			} else {
				printRestore(res)
			}
		}
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		if !res.Success {
			return fmt.Errorf("restore finished with errors")
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <backup-file>",
	Short: "Show a backup container's header without decrypting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		h, err := backup.Inspect(data)
		if err != nil {
			return err
		}
		fmt.Printf("File: %s\n", filepath.Base(args[0]))
		fmt.Printf("Size: %s\n", humanize.IBytes(uint64(len(data))))
		fmt.Printf("Version: %d\n", h.Version)
		fmt.Printf("Mode: %s\n", h.Mode)
		if h.Mode == backup.ModeKindUserPassword {
			fmt.Printf("Argon2id: time=%d memory=%s threads=%d\n",
				h.KDF.Time, humanize.IBytes(uint64(h.KDF.MemoryKB)*1024), h.KDF.Threads)
		}
		return nil
	},
}

var (
	listUser  string
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded backups for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		list, err := rt.Metadata.ListBackups(cmd.Context(), listUser, listLimit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No backups recorded.")
			return nil
		}
		for _, b := range list {
			fmt.Printf("%s  %s  %-13s  %9s  %s\n",
				b.ID, b.CreatedAt.Format(time.RFC3339), b.EncryptionMode,
				humanize.IBytes(uint64(b.SizeBytes)), humanize.Time(b.CreatedAt))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportUser, "user", "", "user id whose data is exported")
	exportCmd.Flags().StringVar(&exportMode, "mode", backup.ModeNameServerSecret, "encryption mode: prepflow-only or user-password")
	exportCmd.Flags().StringVar(&exportPassword, "password", "", "password for user-password mode")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default prepflow-backup-<user>-<time>.pfbak)")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "upload to the configured storage and record metadata")
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "output result as JSON")
	_ = exportCmd.MarkFlagRequired("user")

	restoreCmd.Flags().StringVar(&restoreUser, "user", "", "user id to restore into")
	restoreCmd.Flags().StringVar(&restoreMode, "mode", "full", "strategy: full, selective or merge")
	restoreCmd.Flags().StringSliceVar(&restoreTables, "tables", nil, "tables for selective restore")
	restoreCmd.Flags().StringVar(&restorePolicy, "policy", "", "merge default policy: preferIncoming, preferExisting or preferNewestTimestamp")
	restoreCmd.Flags().StringVar(&restorePassword, "password", "", "password for user-password containers")
	restoreCmd.Flags().BoolVar(&restoreJSON, "json", false, "output result as JSON")
	_ = restoreCmd.MarkFlagRequired("user")

	listCmd.Flags().StringVar(&listUser, "user", "", "user id")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum rows")
	_ = listCmd.MarkFlagRequired("user")
}

func printCounts(counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-22s %d\n", name, counts[name])
	}
}

func printRestore(res *model.RestoreResult) {
	names := make([]string, 0, len(res.PerTable))
	for name := range res.PerTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tr := res.PerTable[name]
		fmt.Printf("  %-22s %-9s inserted=%d updated=%d skipped=%d\n", name, tr.Status, tr.Inserted, tr.Updated, tr.Skipped)
		for _, e := range tr.Errors {
			fmt.Printf("    ERROR: %s\n", e)
		}
	}
	if res.Success {
		fmt.Println("Restore complete.")
	}
}
