// Command backtest runs one distance-approach pairs backtest from a price
// file or stored prices and prints a per-pair summary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/irfndi/distance-pairs/internal/app"
	"github.com/irfndi/distance-pairs/internal/config"
	"github.com/irfndi/distance-pairs/internal/dataset"
	"github.com/irfndi/distance-pairs/internal/exporter"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const exportToConfigDir = "auto"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	data       string
	sheet      string
	assets     []string
	from       string
	to         string
	export     string
	importData bool
	persist    bool
	notify     bool
}

// viperFlags maps run parameter flags onto config keys.
var viperFlags = map[string]string{
	"backtest.top":         "top",
	"backtest.threshold":   "threshold",
	"backtest.train_ratio": "train-ratio",
	"backtest.split_at":    "split-at",
	"backtest.distance":    "distance",
	"backtest.compounding": "compounding",
	"backtest.workers":     "workers",
	"export.sma_period":    "sma-period",
	"log_level":            "log-level",
}

func newFlagSet() (*pflag.FlagSet, *cliFlags) {
	f := &cliFlags{}
	fs := pflag.NewFlagSet("backtest", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to config file")
	fs.StringVar(&f.data, "data", "", "price file (.csv or .xlsx); leading column holds timestamps")
	fs.StringVar(&f.sheet, "sheet", "", "worksheet to read from an .xlsx file (default: first sheet)")
	fs.StringSliceVar(&f.assets, "assets", nil, "assets to load from stored prices when --data is not given (default: all)")
	fs.StringVar(&f.from, "from", "", "first stored timestamp to load")
	fs.StringVar(&f.to, "to", "", "last stored timestamp to load")
	fs.BoolVar(&f.importData, "import", false, "store the --data prices in the database before running")
	fs.StringVar(&f.export, "export", "", "write an .xlsx report to this file or directory; bare --export uses export.dir")
	fs.Lookup("export").NoOptDefVal = exportToConfigDir
	fs.BoolVar(&f.persist, "persist", false, "save the run to the configured run store")
	fs.BoolVar(&f.notify, "notify", false, "send the run summary to Telegram")

	fs.Int("top", 5, "number of closest pairs to trade")
	fs.Float64("threshold", 2, "entry threshold in training spread standard deviations")
	fs.Float64("train-ratio", 0.5, "fraction of rows in the training window")
	fs.String("split-at", "", "first timestamp of the testing window; overrides --train-ratio")
	fs.String("distance", "sum_squared", "distance measure used to rank pairs")
	fs.String("compounding", string(models.CompoundingSignAware), "equity compounding: sign_aware or standard")
	fs.Int("workers", 0, "concurrent pair pipelines (default: CPU count)")
	fs.Int("sma-period", exporter.DefaultSMAPeriod, "spread moving-average window in reports")
	fs.String("log-level", "warn", "log level")
	return fs, f
}

func loadConfig(args []string) (*config.Config, *cliFlags, error) {
	fs, flags := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}
	for key, name := range viperFlags {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, nil, fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if fs.Changed("train-ratio") && !fs.Changed("split-at") {
		cfg.Backtest.SplitAt = ""
	}
	if flags.data == "" && flags.importData {
		return nil, nil, errors.New("--import requires --data")
	}
	return cfg, flags, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, flags, err := loadConfig(args)
	if err != nil {
		return err
	}
	params, err := cfg.Backtest.Params()
	if err != nil {
		return err
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	logger.SetOutput(os.Stderr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	table, err := loadTable(ctx, a, flags)
	if err != nil {
		return err
	}

	if flags.importData {
		n, err := a.ImportTable(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to import prices: %w", err)
		}
		message.NewPrinter(language.English).Fprintf(stdout, "Imported %d prices for %d assets\n", n, len(table.Assets()))
	}
	if flags.notify && a.Notifier == nil {
		logger.WithComponent("cli").Warn("--notify given but telegram.bot_token is not configured")
	}

	backtester := a.Backtester(app.BacktesterOptions{Persist: flags.persist, Notify: flags.notify})
	result, err := backtester.Run(ctx, table, params)
	if err != nil && result == nil {
		return err
	}
	if err != nil {
		logger.WithRunID(result.ID.String()).WithError(err).Error("Run not persisted")
	}

	if err := printSummary(stdout, result); err != nil {
		return err
	}

	if flags.export != "" {
		path, err := exportPath(flags.export, cfg.Export.Dir, result)
		if err != nil {
			return err
		}
		if err := exporter.NewWorkbookExporter(exporter.WithSMAPeriod(cfg.Export.SMAPeriod)).WriteFile(path, result); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Report written to %s\n", path)
	}
	return nil
}

func loadTable(ctx context.Context, a *app.App, flags *cliFlags) (*models.PriceTable, error) {
	if flags.data != "" {
		return dataset.LoadFile(flags.data, flags.sheet)
	}
	var from, to time.Time
	var err error
	if flags.from != "" {
		if from, err = dataset.ParseTimestamp(flags.from); err != nil {
			return nil, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if flags.to != "" {
		if to, err = dataset.ParseTimestamp(flags.to); err != nil {
			return nil, fmt.Errorf("invalid --to: %w", err)
		}
	}
	table, err := a.LoadStoredTable(ctx, flags.assets, from, to)
	if errors.Is(err, app.ErrDatabaseDisabled) {
		return nil, errors.New("no --data file given and the database is not enabled")
	}
	return table, err
}

// exportPath resolves the --export value. Directories receive backtest-<run id>.xlsx.
func exportPath(value, configDir string, run *models.BacktestRun) (string, error) {
	if value == exportToConfigDir {
		value = configDir
	}
	if strings.EqualFold(filepath.Ext(value), ".xlsx") {
		if err := os.MkdirAll(filepath.Dir(value), 0o755); err != nil {
			return "", fmt.Errorf("failed to create report directory: %w", err)
		}
		return value, nil
	}
	if err := os.MkdirAll(value, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	return filepath.Join(value, fmt.Sprintf("backtest-%s.xlsx", run.ID)), nil
}

func printSummary(w io.Writer, run *models.BacktestRun) error {
	fmt.Fprintf(w, "Run %s  distance=%s threshold=%g compounding=%s\n",
		run.ID, run.Params.Distance, run.Params.Threshold, run.Params.Compounding)
	fmt.Fprintf(w, "Train %s to %s, test %s to %s\n",
		run.TrainStart.Format(time.DateOnly), run.TrainEnd.Format(time.DateOnly),
		run.TestStart.Format(time.DateOnly), run.TestEnd.Format(time.DateOnly))
	message.NewPrinter(language.English).Fprintf(w, "%d assets, %d pairs ranked, %d failed\n\n",
		len(run.Assets), len(run.Pairs), len(run.Failures))

	results := make(map[string]models.PairResult, len(run.Results))
	for _, r := range run.Results {
		results[r.Pair.Key()] = r
	}
	failures := make(map[string]models.PairFailure, len(run.Failures))
	for _, f := range run.Failures {
		failures[f.Pair.Key()] = f
	}
	pairs := append([]models.Pair(nil), run.Pairs...)
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Rank < pairs[j].Rank })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPAIR\tDISTANCE\tSIGMA\tMEAN\tSTD\tFINAL EQUITY\tMAX DD\tENTRIES\tSTATUS")
	for _, p := range pairs {
		if r, ok := results[p.Key()]; ok {
			fmt.Fprintf(tw, "%d\t%s\t%.6f\t%.6f\t%.6f\t%.6f\t%s\t%s\t%d\tok\n",
				p.Rank, p.Name(), p.Distance, r.Sigma, r.Summary.Mean, r.Summary.StdDev,
				r.Report.FinalEquity.StringFixed(4), r.Report.MaxDrawdown.StringFixed(4), r.Report.Entries)
			continue
		}
		status := "skipped"
		if f, ok := failures[p.Key()]; ok {
			status = fmt.Sprintf("failed at %s: %s", f.Stage, f.Error)
		}
		fmt.Fprintf(tw, "%d\t%s\t%.6f\t-\t-\t-\t-\t-\t-\t%s\n", p.Rank, p.Name(), p.Distance, status)
	}
	return tw.Flush()
}
