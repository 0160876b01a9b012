// Command client is a developer-facing CLI over the sync core: local CRUD
// against a bbolt store plus push/pull/purge against a table service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpapi "github.com/offlinekit/tablesync/internal/client/api"
	"github.com/offlinekit/tablesync/internal/client/auth"
	"github.com/offlinekit/tablesync/internal/client/storage/boltdb"
	"github.com/offlinekit/tablesync/internal/client/sync"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// Version is set via ldflags during build
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app держит собранный стек CLI: bolt хранилище, транспорт и sync ядро
type app struct {
	store   *boltdb.Storage
	service *sync.Service
}

func (a *app) close() {
	if a.service != nil {
		_ = a.service.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	logLevel := slog.LevelWarn
	if v.GetBool("verbose") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store, err := boltdb.New(ctx, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	a := &app{store: store}

	// Явный --token перекрывает токен, сохраненный командой login
	var tokens auth.TokenSource
	if t := v.GetString("token"); t != "" {
		tokens = auth.Static(t)
	} else {
		tokens = auth.NewCached(store)
	}

	client := httpapi.NewClient(v.GetString("server"), tokens)

	a.service = sync.NewService(client, logger)
	if err := a.service.Initialize(ctx, store); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "tablesync",
		Short:         "Offline-first table client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("server", "http://localhost:8080", "table service base URL")
	pf.String("db", "tablesync.db", "path to the local database")
	pf.String("token", "", "bearer token (overrides the stored one)")
	pf.Bool("verbose", false, "enable debug logging")

	v.SetEnvPrefix("TABLESYNC")
	v.AutomaticEnv()
	_ = v.BindPFlags(pf)

	root.AddCommand(
		newLoginCmd(v),
		newInsertCmd(v),
		newUpdateCmd(v),
		newDeleteCmd(v),
		newGetCmd(v),
		newListCmd(v),
		newPushCmd(v),
		newPullCmd(v),
		newPurgeCmd(v),
		newStatusCmd(v),
	)

	return root
}

// withApp выполняет fn с собранным стеком и закрывает его после
func withApp(v *viper.Viper, fn func(ctx context.Context, a *app, c *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), v)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, cmd)
	}
}

func newLoginCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store a bearer token in the local database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := boltdb.New(cmd.Context(), v.GetString("db"))
			if err != nil {
				return fmt.Errorf("failed to open local store: %w", err)
			}
			defer store.Close()

			if err := store.SaveToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("token saved")
			return nil
		},
	}
}

func newInsertCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <table> <json>",
		Short: "Insert a record locally (synced on the next push)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			rec, err := parseRecord(args[1])
			if err != nil {
				return err
			}

			a, err := newApp(c.Context(), v)
			if err != nil {
				return err
			}
			defer a.close()

			out, err := a.service.Insert(c.Context(), args[0], rec)
			if err != nil {
				return err
			}
			return printJSON(c, out)
		},
	}
}

func newUpdateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "update <table> <json>",
		Short: "Update a record locally (record id required)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			rec, err := parseRecord(args[1])
			if err != nil {
				return err
			}

			a, err := newApp(c.Context(), v)
			if err != nil {
				return err
			}
			defer a.close()

			out, err := a.service.Update(c.Context(), args[0], rec)
			if err != nil {
				return err
			}
			return printJSON(c, out)
		},
	}
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <id>",
		Short: "Delete a record locally (synced on the next push)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp(c.Context(), v)
			if err != nil {
				return err
			}
			defer a.close()

			return a.service.Delete(c.Context(), args[0], models.Record{models.FieldID: args[1]})
		},
	}
}

func newGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Print one local record",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp(c.Context(), v)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.service.Lookup(c.Context(), args[0], args[1], false)
			if err != nil {
				return err
			}
			return printJSON(c, rec)
		},
	}
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var where []string

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "Print local records of a table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "field=value filter (repeatable)")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		q, err := buildQuery(args[0], where)
		if err != nil {
			return err
		}

		a, err := newApp(c.Context(), v)
		if err != nil {
			return err
		}
		defer a.close()

		recs, err := a.service.Read(c.Context(), q)
		if err != nil {
			return err
		}
		return printJSON(c, recs)
	}
	return cmd
}

func newPushCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Send pending local changes to the server",
		Args:  cobra.NoArgs,
		RunE: withApp(v, func(ctx context.Context, a *app, c *cobra.Command) error {
			// Конфликты оставляем в журнале: их разрешают pull + повторный
			// push или ручное редактирование
			h := sync.HandlerFuncs{
				ConflictFunc: func(_ context.Context, conflict *sync.Conflict) (sync.Resolution, error) {
					c.PrintErrf("conflict on %s/%s: kept pending\n",
						conflict.Operation.Table, conflict.Operation.RecordID)
					return sync.KeepPending(), nil
				},
			}
			return a.service.Push(ctx, h)
		}),
	}
}

func newPullCmd(v *viper.Viper) *cobra.Command {
	var queryID string
	var where []string

	cmd := &cobra.Command{
		Use:   "pull <table>",
		Short: "Fetch server records into the local store",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&queryID, "query-id", "", "enable incremental pull under this cursor id")
	cmd.Flags().StringArrayVar(&where, "where", nil, "field=value filter (repeatable)")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		q, err := buildQuery(args[0], where)
		if err != nil {
			return err
		}

		a, err := newApp(c.Context(), v)
		if err != nil {
			return err
		}
		defer a.close()

		return a.service.Pull(c.Context(), q, queryID)
	}
	return cmd
}

func newPurgeCmd(v *viper.Viper) *cobra.Command {
	var force bool
	var where []string

	cmd := &cobra.Command{
		Use:   "purge <table>",
		Short: "Remove local records of a table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&force, "force", false, "discard pending operations of the table")
	cmd.Flags().StringArrayVar(&where, "where", nil, "field=value filter (repeatable)")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		q, err := buildQuery(args[0], where)
		if err != nil {
			return err
		}

		a, err := newApp(c.Context(), v)
		if err != nil {
			return err
		}
		defer a.close()

		return a.service.Purge(c.Context(), q, force)
	}
	return cmd
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending operations awaiting push",
		Args:  cobra.NoArgs,
		RunE: withApp(v, func(ctx context.Context, a *app, c *cobra.Command) error {
			ops, err := a.service.PendingOperations(ctx)
			if err != nil {
				return err
			}

			if len(ops) == 0 {
				c.Println("nothing pending")
				return nil
			}

			for _, op := range ops {
				c.Printf("%4d  %-6s  %s/%s\n", op.Seq, op.Action, op.Table, op.RecordID)
			}
			return nil
		}),
	}
}

func parseRecord(raw string) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("invalid record JSON: %w", err)
	}
	return rec, nil
}

func buildQuery(table string, where []string) (*query.Query, error) {
	q := query.New(table)
	for _, clause := range where {
		field, value, ok := strings.Cut(clause, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --where %q, expected field=value", clause)
		}
		q.Eq(field, value)
	}
	return q, nil
}

func printJSON(c *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	c.Println(string(data))
	return nil
}
