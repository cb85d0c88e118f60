package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/skosovsky/agentsync"
	"github.com/skosovsky/agentsync/app"
	"github.com/skosovsky/agentsync/config"
	"github.com/skosovsky/agentsync/internal/hostapi"
	"github.com/skosovsky/agentsync/internal/telemetry"
	"github.com/skosovsky/agentsync/repository"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sourcegraph/conc/pool"
)

var version = "dev"

var (
	cli        = kingpin.New("agentsync", "Sync agent definitions from a repository and serve them with their resources.")
	configPath = cli.Flag("config", "Path to the YAML configuration file.").Short('c').Envar("AGENTSYNC_CONFIG").String()
	repoURL    = cli.Flag("repo", "Repository URL; overrides repository.url.").String()
	branch     = cli.Flag("branch", "Branch; overrides repository.branch.").String()

	runCmd = cli.Command("run", "Sync periodically and serve the HTTP API.").Default()

	syncCmd = cli.Command("sync", "Run one sync cycle and print the status.")

	statusCmd = cli.Command("status", "Print the status after restoring the persisted agent set.")

	agentsCmd = cli.Command("agents", "List the stored agents.")

	resolveCmd    = cli.Command("resolve", "Print the raw-content URL for a file in a repository.")
	resolveRepo   = resolveCmd.Arg("repository", "Repository URL.").Required().String()
	resolvePath   = resolveCmd.Arg("path", "File path inside the repository.").Required().String()
	resolveBranch = resolveCmd.Flag("ref", "Branch.").Default("main").String()

	askCmd    = cli.Command("ask", "Load an agent's resources and print the assembled request.")
	askAgent  = askCmd.Arg("agent", "Agent id or name.").Required().String()
	askQuery  = askCmd.Arg("query", "User query.").Default("").String()
	askSync   = askCmd.Flag("sync", "Sync before answering.").Bool()
	askLayout = askCmd.Flag("layout", "text/template file used to lay out the request.").ExistingFile()

	clearCmd    = cli.Command("clear-cache", "Clear the resource cache of a running instance.")
	clearAddr   = clearCmd.Flag("addr", "Address of the running instance; defaults to http.addr.").String()
	clearMaxAge = clearCmd.Flag("max-age", "Only remove entries older than this.").Duration()
)

func main() {
	cli.Version(version)
	command := kingpin.MustParse(cli.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == resolveCmd.FullCommand() {
		cli.FatalIfError(resolve(os.Stdout, *resolveRepo, *resolveBranch, *resolvePath), "resolve")
		return
	}

	cfg, err := loadConfig()
	cli.FatalIfError(err, "config")
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if command == clearCmd.FullCommand() {
		addr := *clearAddr
		if addr == "" {
			addr = cfg.HTTP.Addr
		}
		cli.FatalIfError(clearRemote(ctx, os.Stdout, addr, *clearMaxAge), "clear-cache")
		return
	}

	if cfg.Telemetry.Tracing {
		shutdown, err := telemetry.InitTracing(os.Stderr, "agentsync", version)
		cli.FatalIfError(err, "tracing")
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Error("tracing shutdown", "err", err)
			}
		}()
	}

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	cli.FatalIfError(err, "init")
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close", "err", err)
		}
	}()

	switch command {
	case runCmd.FullCommand():
		err = run(ctx, a, cfg, logger)
	case syncCmd.FullCommand():
		if err = a.Resync(ctx); err == nil {
			err = printJSON(os.Stdout, a.Status())
		}
	case statusCmd.FullCommand():
		err = printJSON(os.Stdout, a.Status())
	case agentsCmd.FullCommand():
		printAgents(os.Stdout, a.Agents())
	case askCmd.FullCommand():
		err = ask(ctx, a, os.Stdout, askOptions{
			Agent:  *askAgent,
			Query:  *askQuery,
			Layout: *askLayout,
			Sync:   *askSync,
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command+" failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *repoURL != "" {
		cfg.Repository.URL = *repoURL
	}
	if *branch != "" {
		cfg.Repository.Branch = *branch
	}
	return cfg, nil
}

// run serves the HTTP API, syncs on the configured interval and follows config file changes
// until ctx is cancelled or one of them fails.
func run(ctx context.Context, a *app.App, cfg *config.Config, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           hostapi.NewRouter(a, a.Registry(), logger.With("component", "hostapi")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return a.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		logger.Info("http listening", "addr", srv.Addr)
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		select {
		case err := <-errc:
			return fmt.Errorf("http: %w", err)
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		<-errc
		return nil
	})
	if *configPath != "" {
		current := cfg.Repository
		p.Go(func(ctx context.Context) error {
			return config.Watch(ctx, *configPath, func(next *config.Config) {
				if next.Repository.URL == current.URL && next.Repository.Branch == current.Branch {
					return
				}
				current = next.Repository
				if err := a.Configure(ctx, next.Repository.URL, next.Repository.Branch); err != nil {
					logger.Warn("repository reconfiguration failed", "url", next.Repository.URL, "err", err)
				}
			})
		})
	}
	err := p.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

// resolve prints the raw-content URL of path in the repository.
func resolve(w io.Writer, repoURL, branch, path string) error {
	_, err := fmt.Fprintln(w, repository.RawURL(repoURL, branch, path))
	return err
}

// clearRemote asks the instance listening on addr to clear its resource cache.
func clearRemote(ctx context.Context, w io.Writer, addr string, maxAge time.Duration) error {
	target := "http://" + addr + "/cache"
	if maxAge > 0 {
		target += "?maxAge=" + maxAge.String()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAgents(w io.Writer, agents []agentsync.Agent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tENABLED\tRESOURCES\tVERSION")
	for _, a := range agents {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", a.ID, a.Name, a.Enabled, len(a.Resources), a.Version)
	}
	_ = tw.Flush()
}

type askOptions struct {
	Agent  string
	Query  string
	Layout string // path of a text/template layout; empty uses agentsync.DefaultLayout
	Sync   bool
}

// ask loads the agent's resources and writes the laid-out request to w.
func ask(ctx context.Context, a *app.App, w io.Writer, opts askOptions) error {
	layout := agentsync.DefaultLayout
	if opts.Layout != "" {
		b, err := os.ReadFile(opts.Layout)
		if err != nil {
			return err
		}
		layout = string(b)
	}
	tpl, err := agentsync.NewPromptTemplate(layout, nil)
	if err != nil {
		return err
	}
	if opts.Sync {
		if err := a.Resync(ctx); err != nil {
			return err
		}
	}
	return a.Serve(ctx, opts.Agent, opts.Query, tpl.Renderer(w))
}
