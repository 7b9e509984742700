package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/darianmavgo/claridad/client"
	"github.com/darianmavgo/claridad/config"
	"github.com/darianmavgo/claridad/page"
	"github.com/darianmavgo/claridad/server"
	"github.com/darianmavgo/claridad/shell"
	"github.com/darianmavgo/claridad/store"
)

func (a *app) storeOptions() (store.Options, error) {
	sc := a.cfg.Server
	scan, err := sc.ScanTimeoutDuration()
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		TableMode:       store.TableMode(sc.TableMode),
		Table:           sc.Table,
		RequiredColumns: sc.RequiredColumns,
		HiddenColumns:   sc.HiddenColumns,
		BatchSize:       sc.BatchSize,
		SkipBadRows:     sc.SkipBadRows,
		ScanTimeout:     scan,
		Logger:          a.log,
	}, nil
}

func (a *app) client() (*client.Client, error) {
	timeout, err := a.cfg.Client.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return client.New(a.cfg.Client.BaseURL, client.WithTimeout(timeout))
}

func newServeCmd(a *app) *cobra.Command {
	var listen, database string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload and query API and the web page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Server
			if listen != "" {
				sc.Listen = listen
			}
			if database != "" {
				sc.Database = database
			}

			opts, err := a.storeOptions()
			if err != nil {
				return err
			}
			st, err := store.Open(sc.Database, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := server.New(server.Config{
				Store:          st,
				Logger:         a.log,
				MaxUploadBytes: sc.MaxUploadBytes(),
				MaxConnections: sc.MaxConnections,
				CORSOrigins:    sc.CORSOrigins,
				RateLimit: server.RateLimitConfig{
					RequestsPerSecond: sc.RateLimitRPS,
					Burst:             sc.RateLimitBurst,
				},
				PageSize:            a.cfg.Client.PageSize,
				PreserveFailedQuery: a.cfg.Client.PreserveFailedQuery,
			})
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context(), sc.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides server.listen)")
	cmd.Flags().StringVar(&database, "db", "", "SQLite database path (overrides server.database)")
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a CSV file to a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				a.cfg.Client.BaseURL = serverURL
			}
			c, err := a.client()
			if err != nil {
				return err
			}

			p := page.New(c, page.AlerterFunc(func(msg string) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
			}), page.Options{Logger: a.log})

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			p.SelectFile(filepath.Base(args[0]), f)
			err = p.SubmitUpload(cmd.Context())
			p.SelectFiles(nil)
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (overrides client.base_url)")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		serverURL string
		format    string
		sortBy    string
		desc      bool
		pageNum   int
		pageSize  int
	)
	cmd := &cobra.Command{
		Use:   `query "<sql>;"`,
		Short: "Run a SQL query on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				a.cfg.Client.BaseURL = serverURL
			}
			c, err := a.client()
			if err != nil {
				return err
			}

			p := page.New(c, page.AlerterFunc(func(msg string) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), msg)
			}), page.Options{Logger: a.log})
			p.SetQuery(args[0])
			if err := p.SubmitQuery(cmd.Context()); err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p.Result())
			}
			if pageSize <= 0 {
				pageSize = a.cfg.Client.PageSize
			}
			return page.RenderText(cmd.OutOrStdout(), page.BuildTable(p.Result(), page.View{
				SortBy:   sortBy,
				Desc:     desc,
				Page:     pageNum,
				PageSize: pageSize,
			}))
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (overrides client.base_url)")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format (table|json)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "column to sort by")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVarP(&pageNum, "page", "p", 1, "page to show")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "rows per page (overrides client.page_size)")
	return cmd
}

func newShellCmd(a *app) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell against a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverURL != "" {
				a.cfg.Client.BaseURL = serverURL
			}
			c, err := a.client()
			if err != nil {
				return err
			}

			history := ""
			if dir, err := os.UserCacheDir(); err == nil {
				history = filepath.Join(dir, "claridad", "shell_history")
				_ = os.MkdirAll(filepath.Dir(history), 0o755)
			}
			return shell.New(c, cmd.OutOrStdout(), shell.Options{
				PageSize:            a.cfg.Client.PageSize,
				PreserveFailedQuery: a.cfg.Client.PreserveFailedQuery,
				HistoryFile:         history,
				Logger:              a.log,
			}).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (overrides client.base_url)")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var database, table string
	cmd := &cobra.Command{
		Use:   "load <file.csv>...",
		Short: "Load CSV files straight into a database without a server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if database == "" {
				database = a.cfg.Server.Database
			}
			opts, err := a.storeOptions()
			if err != nil {
				return err
			}
			if table != "" {
				opts.TableMode = store.SharedTable
				opts.Table = table
			}

			st, err := store.Open(database, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			for _, path := range args {
				start := time.Now()
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				res, err := st.Ingest(cmd.Context(), path, f)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows into %s (%d rejected) in %s\n",
					path, res.Rows, res.Table, res.Rejected, time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "db", "", "SQLite database path (overrides server.database)")
	cmd.Flags().StringVar(&table, "table", "", "append every file to this table")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <path>",
		Short: "Write the effective configuration as HCL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Export(args[0], a.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}
