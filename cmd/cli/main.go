package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/repo-harvester/internal/aggregator"
	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/config"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/jobs"
	"github.com/kurihiro0119/repo-harvester/internal/logger"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
	"github.com/kurihiro0119/repo-harvester/internal/storage/jsonfile"
	"github.com/kurihiro0119/repo-harvester/internal/storage/postgres"
	"github.com/kurihiro0119/repo-harvester/internal/storage/sqlite"
)

var (
	cfgFile     string
	outputJSON  bool
	startDate   string
	endDate     string
	granularity string

	collectCommits  bool
	collectIssues   bool
	collectPulls    bool
	collectBranches bool
	collectAll      bool
)

var rootCmd = &cobra.Command{
	Use:   "repo-harvester",
	Short: "GitHub repository harvester",
	Long: `A CLI tool for harvesting commits, issues, pull requests and branches
of a GitHub repository within a date range.

Requests are spread over every configured token: a token close to its rate
limit is swapped for the next one, and pages are fetched in parallel.`,
	SilenceUsage: true,
}

var collectCmd = &cobra.Command{
	Use:   "collect [repository-url]",
	Short: "Collect data from a GitHub repository",
	Long: `Collect the selected record kinds of a repository between --start and --end
(YYYY-MM-DD or DD/MM/YYYY) and store them. Ctrl-C stops the collection and
stores what was fetched so far; a second Ctrl-C aborts.`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	rootCmd.PersistentFlags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")

	collectCmd.Flags().BoolVar(&collectCommits, "commits", false, "collect commits")
	collectCmd.Flags().BoolVar(&collectIssues, "issues", false, "collect issues")
	collectCmd.Flags().BoolVar(&collectPulls, "pulls", false, "collect pull requests")
	collectCmd.Flags().BoolVar(&collectBranches, "branches", false, "collect branches")
	collectCmd.Flags().BoolVar(&collectAll, "all", false, "collect every kind")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case "json":
		return jsonfile.NewJSONStorage(cfg.JSONOutputDir)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func selectedKinds() []domain.EntityKind {
	if collectAll {
		return domain.AllKinds
	}
	var kinds []domain.EntityKind
	flags := []struct {
		on   bool
		kind domain.EntityKind
	}{
		{collectCommits, domain.KindCommit},
		{collectIssues, domain.KindIssue},
		{collectPulls, domain.KindPullRequest},
		{collectBranches, domain.KindBranch},
	}
	for _, f := range flags {
		if f.on {
			kinds = append(kinds, f.kind)
		}
	}
	return kinds
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	factory, err := collector.NewClientFactory(cfg.GitHubAPIURL)
	if err != nil {
		return fmt.Errorf("invalid GitHub API URL: %w", err)
	}
	coll := collector.NewGitHubCollector(collector.Options{
		PerPage:           cfg.PerPage,
		Workers:           cfg.PageWorkers,
		LowLimitThreshold: cfg.LowLimitThreshold,
		Logger:            log,
	})
	runner := jobs.NewRunner(coll, store, cfg.GitHubTokens, factory,
		jobs.WithRequestsPerSecond(cfg.RequestsPerSecond),
		jobs.WithLogger(log),
	)

	params, err := runner.Prepare(jobs.Request{
		RepositoryURL: args[0],
		Start:         startDate,
		End:           endDate,
		Kinds:         selectedKinds(),
	})
	if err != nil {
		return err
	}

	id := uuid.New().String()
	session, err := runner.NewSession(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// first interrupt stops cooperatively, the second aborts
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		if _, ok := <-signals; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "\nStopping... (press Ctrl-C again to abort)")
		session.Stop()
		if _, ok := <-signals; ok {
			cancel()
		}
	}()

	fmt.Printf("Collecting %s\n", params.Repository.FullName())
	fmt.Printf("Time Range: %s\n", params.Window)

	summary, err := runner.Run(ctx, session, jobs.NewRun(id, params), params)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

func printSummary(summary *aggregator.Summary) {
	if outputJSON {
		printJSON(summary)
		return
	}

	fmt.Printf("\n%s\n\n", summary.Text())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Collected", "Saved", "Error"})
	for _, kind := range summary.Kinds {
		table.Append([]string{
			kind.Label(),
			strconv.Itoa(summary.Counts[kind]),
			strconv.Itoa(summary.Saved[kind]),
			summary.Errors[kind],
		})
	}
	table.Render()

	fmt.Printf("\nRun %s: %s\n", summary.RunID, summary.Status)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
