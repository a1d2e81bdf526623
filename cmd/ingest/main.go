// Command ingest imports statements from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/FACorreiaa/ledger-ingest/internal/app"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/coverage"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/pkg/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(ctx, logger, os.Args[2:])
	case "sweep":
		err = runSweep(ctx, logger, os.Args[2:])
	case "plugins":
		err = runPlugins(ctx, logger)
	case "rules":
		err = runRules(ctx, logger)
	case "search":
		err = runSearch(ctx, logger, os.Args[2:])
	case "coverage":
		err = runCoverage(ctx, logger, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement ingestion CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  ingest <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import    Import statement files: ingest import [-dry-run] [-strict] FILE...")
	fmt.Println("  sweep     Import every statement in INBOX_DIR and archive it by outcome")
	fmt.Println("  plugins   List resolvable adapters")
	fmt.Println("  rules     List statement type rules")
	fmt.Println("  search    Search adapters and rules: ingest search [-kind plugin|rule] TERMS...")
	fmt.Println("  coverage  Show statement coverage gaps per account: ingest coverage [-months N]")
	fmt.Println("  help      Show this help message")
}

func setup(ctx context.Context, logger *slog.Logger, opts app.Options, configure func(*config.Config)) (*app.Dependencies, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(cfg)
	}
	return app.InitDependencies(ctx, cfg, opts, logger)
}

func runImport(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "validate and report without committing")
	strict := fs.Bool("strict", false, "abort commits that fail reconciliation")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("usage: ingest import [-dry-run] [-strict] FILE...")
	}

	subs := make([]importservice.Submission, 0, fs.NArg())
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		subs = append(subs, importservice.Submission{Filename: filepath.Base(path), Data: data})
	}

	deps, err := setup(ctx, logger, app.Options{DryRun: *dryRun}, func(cfg *config.Config) {
		if *strict {
			cfg.Ingest.Strict = true
		}
	})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	outcomes := deps.Pipeline.IngestBatch(ctx, subs)

	rejected := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tOUTCOME")
	for i, o := range outcomes {
		if o.Err != nil {
			rejected++
		}
		fmt.Fprintf(w, "%s\t%s\n", subs[i].Filename, o.Describe())
		if o.Result != nil {
			for _, warn := range o.Result.Warnings {
				fmt.Fprintf(w, "\t  warning: %s\n", warn.Message)
			}
		}
	}
	w.Flush()

	if *dryRun {
		fmt.Println("\nDry run: nothing was committed.")
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d files rejected", rejected, len(subs))
	}
	return nil
}

func runSweep(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	hardFail := fs.Bool("hard-fail", false, "stop at the first rejected file")
	fs.Parse(args)

	deps, err := setup(ctx, logger, app.Options{}, func(cfg *config.Config) {
		if *hardFail {
			cfg.Sweep.HardFail = true
		}
	})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	report, err := deps.Sweeper.Sweep(ctx)
	if report != nil {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tDESTINATION\tOUTCOME")
		for _, f := range report.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Destination, importservice.Outcome{Result: f.Result, Err: f.Err}.Describe())
		}
		w.Flush()
		fmt.Printf("\nimported %d, duplicates %d, failed %d\n", report.Imported, report.Duplicates, report.Failed)
	}
	return err
}

func runPlugins(ctx context.Context, logger *slog.Logger) error {
	deps, err := setup(ctx, logger, app.Options{}, nil)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	infos := deps.Registry.List()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identifier < infos[j].Identifier })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tFAMILY\tVERSION\tCOMPANY\tTYPE\tSEARCH")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Identifier, info.Family, info.Version, info.Company, info.StatementType, info.SearchString)
	}
	return w.Flush()
}

func runRules(ctx context.Context, logger *slog.Logger) error {
	deps, err := setup(ctx, logger, app.Options{}, nil)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tEXTENSION\tSEARCH\tIDENTIFIER")
	for _, r := range deps.Rules.Current().Rules() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Label(), r.Extension, r.SearchExpression, r.Identifier)
	}
	return w.Flush()
}

func runSearch(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	kind := fs.String("kind", "", "restrict results to plugin or rule entries")
	limit := fs.Int("limit", 10, "maximum number of results")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no search terms given")
	}

	deps, err := setup(ctx, logger, app.Options{}, nil)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	idx, err := catalog.Build(deps.Registry.List(), deps.Rules.Current().Rules())
	if err != nil {
		return err
	}
	defer idx.Close()

	hits, err := idx.Search(strings.Join(fs.Args(), " "), *kind, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tIDENTIFIER\tTITLE\tSCORE")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\n", h.Kind, h.Identifier, h.Title, h.Score)
	}
	return w.Flush()
}

func runCoverage(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("coverage", flag.ExitOnError)
	months := fs.Int("months", coverage.DefaultMonths, "number of trailing months to show (0 for all)")
	fs.Parse(args)

	deps, err := setup(ctx, logger, app.Options{}, nil)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	report, err := coverage.Load(ctx, deps.Ledger, *months)
	if err != nil {
		return err
	}
	if len(report.Accounts) == 0 {
		fmt.Println("No statements imported yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "ACCOUNT")
	for _, m := range report.Months {
		fmt.Fprintf(w, "\t%s", m.Format("2006-01"))
	}
	fmt.Fprintln(w)
	for _, a := range report.Accounts {
		fmt.Fprint(w, a.Name)
		for _, m := range a.Months {
			mark := "-"
			if m.Covered {
				mark = "x"
			}
			fmt.Fprintf(w, "\t%s", mark)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, a := range report.Accounts {
		if len(a.Gaps) == 0 {
			continue
		}
		fmt.Printf("\n%s (%d statements, %s to %s):\n", a.Name, a.Statements, a.First.Format(time.DateOnly), a.Last.Format(time.DateOnly))
		for _, g := range a.Gaps {
			fmt.Printf("  missing %s to %s (%d days)\n", g.Start.Format(time.DateOnly), g.End.Format(time.DateOnly), g.Days())
		}
	}
	return nil
}
