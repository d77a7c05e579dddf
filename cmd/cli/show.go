package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/repo-harvester/internal/aggregator"
	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

var runsLimit int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored data",
	Long:  `Display what previous collections stored for a repository.`,
}

var showStatsCmd = &cobra.Command{
	Use:   "stats [repository-url]",
	Short: "Show repository stats",
	Long:  `Display record counts, authors and the latest run of a repository.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowStats,
}

var showRunsCmd = &cobra.Command{
	Use:   "runs [repository-url]",
	Short: "Show collection runs",
	Long:  `Display the latest collection runs of a repository.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRuns,
}

var showActivityCmd = &cobra.Command{
	Use:   "activity [repository-url]",
	Short: "Show repository activity",
	Long:  `Display stored commits, issues and pull requests per period between --start and --end.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowActivity,
}

func init() {
	showRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
	showActivityCmd.Flags().StringVar(&granularity, "granularity", "day", "time granularity (day, week, month)")

	showCmd.AddCommand(showStatsCmd)
	showCmd.AddCommand(showRunsCmd)
	showCmd.AddCommand(showActivityCmd)
}

// openAggregator opens the configured storage. The returned func closes it.
func openAggregator() (aggregator.Aggregator, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return aggregator.NewAggregator(store), func() { store.Close() }, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func runShowStats(cmd *cobra.Command, args []string) error {
	repo, err := collector.ParseRepository(args[0])
	if err != nil {
		return err
	}
	agg, closeFn, err := openAggregator()
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := agg.RepositoryStats(context.Background(), repo)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if outputJSON {
		printJSON(stats)
		return nil
	}

	fmt.Printf("\nRepository Stats: %s\n\n", repo.FullName())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	for _, kind := range domain.AllKinds {
		table.Append([]string{kind.Label(), strconv.Itoa(stats.Counts[kind])})
	}
	table.Append([]string{"Comments", strconv.Itoa(stats.Comments)})
	table.Append([]string{"Authors", strconv.Itoa(stats.Authors)})
	table.Append([]string{"First Commit", formatTime(stats.FirstCommitAt)})
	table.Append([]string{"Last Commit", formatTime(stats.LastCommitAt)})
	if stats.LastRun != nil {
		table.Append([]string{"Last Run", fmt.Sprintf("%s (%s)", stats.LastRun.ID, stats.LastRun.Status)})
	}
	table.Render()

	return nil
}

func runShowRuns(cmd *cobra.Command, args []string) error {
	repo, err := collector.ParseRepository(args[0])
	if err != nil {
		return err
	}
	agg, closeFn, err := openAggregator()
	if err != nil {
		return err
	}
	defer closeFn()

	runs, err := agg.Runs(context.Background(), repo, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to get runs: %w", err)
	}

	if outputJSON {
		printJSON(runs)
		return nil
	}

	printRuns(runs)
	return nil
}

func printRuns(runs []*domain.CollectionRun) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Created", "Window", "Status", "Records", "Error"})
	for _, run := range runs {
		total := 0
		for _, n := range run.Counts {
			total += n
		}
		table.Append([]string{
			run.ID,
			run.CreatedAt.Format(time.RFC3339),
			run.Window.String(),
			string(run.Status),
			strconv.Itoa(total),
			run.Error,
		})
	}
	table.Render()
}

func runShowActivity(cmd *cobra.Command, args []string) error {
	repo, err := collector.ParseRepository(args[0])
	if err != nil {
		return err
	}
	window, err := domain.NewDateWindow(startDate, endDate)
	if err != nil {
		return err
	}
	g, err := aggregator.ParseGranularity(granularity)
	if err != nil {
		return err
	}
	agg, closeFn, err := openAggregator()
	if err != nil {
		return err
	}
	defer closeFn()

	activity, err := agg.Activity(context.Background(), repo, window, g)
	if err != nil {
		return fmt.Errorf("failed to get activity: %w", err)
	}

	if outputJSON {
		printJSON(activity)
		return nil
	}

	fmt.Printf("\nActivity: %s\n", repo.FullName())
	fmt.Printf("Time Range: %s\n\n", window)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Period", "Commits", "Issues", "Pull Requests"})
	for _, p := range activity.Points {
		table.Append([]string{
			p.Start.Format(domain.DateLayout),
			strconv.Itoa(p.Commits),
			strconv.Itoa(p.Issues),
			strconv.Itoa(p.PullRequests),
		})
	}
	table.Render()

	return nil
}
