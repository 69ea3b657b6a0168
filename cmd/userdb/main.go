package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"

	"usermanager/backend/internal/app"
	"usermanager/backend/internal/model"
	"usermanager/backend/internal/repository"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "userdb",
		Short: "Set up and inspect the user management database",
		Long: `userdb works against the database configured through DB_TYPE and the
other DB_* variables (or a .env file), the same way the server does.`,
		SilenceUsage: true,
	}
	root.AddCommand(newSetupCmd(), newTablesCmd(), newUsersCmd())
	return root
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the database if needed and synchronize the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}

			created, err := repository.CreateDatabase(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "created database %s\n", cfg.DB.Name)
			}

			db, err := repository.Open(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.EnsureSchema(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintf(out, "schema ready (%s)\n", cfg.DB.Type)
			return nil
		},
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables and their columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			return renderTables(cmd.Context(), cmd.OutOrStdout(), db)
		},
	}
}

func newUsersCmd() *cobra.Command {
	var (
		format string
		query  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Dump stored users without password hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := repository.NewBunUserRepository(db)
			users, total, err := repo.List(cmd.Context(), repository.ListUsersFilter{Query: query, Limit: limit})
			if err != nil {
				return err
			}
			return renderUsers(cmd.OutOrStdout(), format, users, total)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only users whose name or email contains this text")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of users to print")
	return cmd
}

func openDB(ctx context.Context) (*bun.DB, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return repository.Open(ctx, cfg.DB)
}

func renderTables(ctx context.Context, w io.Writer, db *bun.DB) error {
	tables, err := repository.ListTables(ctx, db)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Fprintln(w, "no tables found, run `userdb setup` first")
		return nil
	}

	for _, name := range tables {
		columns, err := repository.DescribeTable(ctx, db, name)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(columns))
		for _, col := range columns {
			key := ""
			if col.PrimaryKey {
				key = "PK"
			}
			rows = append(rows, []string{col.Name, col.Type, yesNo(col.Nullable), col.Default, key})
		}

		fmt.Fprintln(w, headingStyle.Render(name))
		fmt.Fprintln(w, newTable("Column", "Type", "Nullable", "Default", "Key").Rows(rows...).Render())
		fmt.Fprintln(w)
	}
	return nil
}

type usersDump struct {
	Total int          `json:"total" yaml:"total"`
	Users []model.User `json:"users" yaml:"users"`
}

func renderUsers(w io.Writer, format string, users []model.User, total int) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(usersDump{Total: total, Users: users})
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(usersDump{Total: total, Users: users}); err != nil {
			return err
		}
		return enc.Close()
	case formatTable, "":
		rows := make([][]string, 0, len(users))
		for _, u := range users {
			rows = append(rows, []string{
				strconv.FormatInt(u.ID, 10),
				u.Name,
				u.Email,
				string(u.Role),
				deref(u.Phone),
				deref(u.City),
				deref(u.Country),
				u.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			})
		}
		fmt.Fprintln(w, newTable("ID", "Name", "Email", "Role", "Phone", "City", "Country", "Created").Rows(rows...).Render())
		fmt.Fprintf(w, "%d of %d users\n", len(users), total)
		return nil
	default:
		return fmt.Errorf("unknown format %q, expected table, json or yaml", format)
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
