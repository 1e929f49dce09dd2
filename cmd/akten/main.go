package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pbaille/akten/internal/api"
	"github.com/pbaille/akten/internal/classifier"
	"github.com/pbaille/akten/internal/config"
	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/fetcher"
	"github.com/pbaille/akten/internal/observability"
	"github.com/pbaille/akten/internal/preview"
	"github.com/pbaille/akten/internal/prompt"
	"github.com/pbaille/akten/internal/session"
	"github.com/pbaille/akten/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	dbPath     string
	configPath string
	dev        bool
)

// app bundles what a command needs; close releases it.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *observability.Metrics
	session *session.Session
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "akten",
		Short:         "Document archive with automatic tax and tenant filing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default ~/.akten/akten.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", filepath.Join(config.DefaultDir(), "config.yaml"), "config file")
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "human-readable debug logging")

	rootCmd.AddCommand(lsCmd())
	rootCmd.AddCommand(mkdirCmd())
	rootCmd.AddCommand(rmdirCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(pathCmd())
	rootCmd.AddCommand(taxYearCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "cancelled")
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if dev {
		cfg.Dev = true
	}

	log, err := observability.InitLogger(cfg.Dev)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	s, err := store.New(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("cannot open archive %s: %w", cfg.DBPath, err)
	}

	return &app{cfg: cfg, log: log, metrics: metrics, session: session.New(s, log, metrics)}, nil
}

func (a *app) close() {
	a.session.Close()
	a.log.Sync()
}

// classifier returns nil when no API key is configured.
func (a *app) classifier() *classifier.Classifier {
	clf, err := classifier.New(a.cfg.AnthropicAPIKey, a.cfg.Model, a.cfg.TenantAddress)
	if err != nil {
		a.log.Debug("classifier unavailable", zap.Error(err))
		return nil
	}
	return clf
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func optionalParent(cmd *cobra.Command, flag string, id int64) *int64 {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &id
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List folders and files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := a.session.Enter(ctx, id); err != nil {
					return err
				}
			}
			current := a.session.Current()
			tr := a.session.Tree()

			if current != nil {
				path, err := tr.Breadcrumb(ctx, *current)
				if err != nil {
					return err
				}
				names := make([]string, len(path))
				for i, f := range path {
					names[i] = f.Name
				}
				fmt.Fprintf(cmd.OutOrStdout(), "/%s\n", strings.Join(names, "/"))
			}

			folders, err := tr.ChildFolders(ctx, current)
			if err != nil {
				return err
			}
			for _, f := range folders {
				lock := ""
				if tr.IsLocked(&f) {
					lock = "  (locked)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%6d  [%s]%s\n", f.ID, f.Name, lock)
			}

			if current == nil {
				if len(folders) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No folders yet. Use 'akten mkdir' to create one.")
				}
				return nil
			}

			files, err := tr.Files(ctx, *current)
			if err != nil {
				return err
			}
			for _, f := range files {
				date := "          "
				if !f.Date.IsZero() {
					date = f.Date.Format(domain.DateLayout)
				}
				copyMark := ""
				if f.IsCopy {
					copyMark = "  (copy)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%6d  %s  %-8s %s%s\n", f.ID, date, preview.Icon(f.Type), truncate(f.Name, 50), copyMark)
			}
			return nil
		},
	}
}

func mkdirCmd() *cobra.Command {
	var parent int64

	cmd := &cobra.Command{
		Use:   "mkdir [name]",
		Short: "Create a folder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			f, err := a.session.CreateFolder(cmd.Context(), strings.Join(args, " "), optionalParent(cmd, "parent", parent))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created folder %d: %s\n", f.ID, f.Name)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&parent, "parent", "p", 0, "parent folder id (default: root)")
	return cmd
}

func rmdirCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rmdir [folder-id]",
		Short: "Delete a folder with everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			f, err := a.session.Folder(ctx, id)
			if err != nil {
				return err
			}
			if !yes {
				p := prompt.NewTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
				if err := p.Confirm(fmt.Sprintf("Delete folder %q and all of its contents?", f.Name)); err != nil {
					return err
				}
			}

			if err := a.session.DeleteFolderCascade(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted folder %s\n", f.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func addCmd() *cobra.Command {
	var (
		folder     int64
		name       string
		date       string
		category   string
		tax        bool
		address    bool
		noClassify bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "add [path-or-url]",
		Short: "Add a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			req := session.NewFile{FolderID: folder}
			suggestedName := ""

			if fetcher.IsURL(args[0]) {
				doc, err := fetcher.Fetch(ctx, args[0])
				if err != nil {
					return err
				}
				req.Data, req.Type, req.Summary = doc.Data, doc.Type, doc.Summary
				suggestedName = doc.Name
			} else {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read document: %w", err)
				}
				req.Data, req.Type = data, http.DetectContentType(data)
				suggestedName = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			hints := domain.DefaultClassification()
			if !noClassify {
				fmt.Fprint(cmd.OutOrStdout(), "Classifying... ")
				hints = classifier.OrDefault(ctx, a.classifier(), req.Data, req.Type, a.log, a.metrics.ClassifierFallback)
				fmt.Fprintln(cmd.OutOrStdout(), "done")
			}
			if hints.Filename != "" {
				suggestedName = hints.Filename
			}
			if req.Summary == "" {
				req.Summary = hints.Summary
			}

			// Flags the user set win over classifier suggestions.
			req.IsTaxRelevant = hints.IsTaxRelevant
			if cmd.Flags().Changed("tax") {
				req.IsTaxRelevant = tax
			}
			req.AddressMatch = hints.ContainsAddress
			if cmd.Flags().Changed("address") {
				req.AddressMatch = address
			}
			req.Category = hints.Category
			if category != "" {
				req.Category = domain.ParseCategory(category)
			}
			if date != "" {
				if req.Date, err = time.Parse(domain.DateLayout, date); err != nil {
					return fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrValidation)
				}
			}

			var p prompt.Prompter = prompt.Yes{}
			if !yes {
				p = prompt.NewTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			req.Name = name
			if req.Name == "" {
				if req.Name, err = p.Input("Name", suggestedName); err != nil {
					return err
				}
			}
			if req.IsTaxRelevant && req.Date.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "note: no --date given, the document will not be filed for taxes")
			}

			filed, err := a.session.AddFile(ctx, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added file %d: %s\n", filed.Original.ID, filed.Original.Name)
			for _, c := range filed.Copies {
				path, err := a.session.Tree().Breadcrumb(ctx, c.FolderID)
				if err != nil {
					continue
				}
				names := make([]string, len(path))
				for i, f := range path {
					names[i] = f.Name
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  + copy %d in /%s\n", c.ID, strings.Join(names, "/"))
			}
			return nil
		},
	}

	cmd.Flags().Int64VarP(&folder, "folder", "f", 0, "target folder id")
	cmd.Flags().StringVarP(&name, "name", "n", "", "document name (default: suggested)")
	cmd.Flags().StringVarP(&date, "date", "d", "", "document date, YYYY-MM-DD")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Rechnungen, Versicherungen, Spenden or Sonstiges")
	cmd.Flags().BoolVar(&tax, "tax", false, "tax relevant")
	cmd.Flags().BoolVar(&address, "address", false, "concerns the rented property")
	cmd.Flags().BoolVar(&noClassify, "no-classify", false, "skip automatic classification")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept suggestions without asking")
	cmd.MarkFlagRequired("folder")
	return cmd
}

func rmCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rm [file-id]",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			f, err := a.session.File(ctx, id)
			if err != nil {
				return err
			}
			if !yes {
				p := prompt.NewTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
				if err := p.Confirm(fmt.Sprintf("Delete %q?", f.Name)); err != nil {
					return err
				}
			}
			if err := a.session.DeleteFile(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", f.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path [folder-id]",
		Short: "Show the path from the root to a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.session.Tree().Breadcrumb(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(path) == 0 {
				return fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
			}
			for depth, f := range path {
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s (%d)\n", strings.Repeat("  ", depth), f.Name, f.ID)
			}
			return nil
		},
	}
}

func taxYearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tax-year [year]",
		Short: "Create the folder structure for a tax year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			f, err := a.session.Engine().EnsureTaxYear(cmd.Context(), year)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d)\n", f.Name, f.ID)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			if addr != "" {
				a.cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.New(a.session, a.classifier(), a.metrics)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Run(ctx, a.cfg.Addr) })
			if a.cfg.MetricsAddr != "" {
				g.Go(func() error { return api.Serve(ctx, a.cfg.MetricsAddr, a.metrics.Handler(), a.log.Named("metrics")) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (default from config, :8080)")
	return cmd
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
