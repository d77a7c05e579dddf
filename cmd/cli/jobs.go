package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/repo-harvester/internal/jobs"
	"github.com/kurihiro0119/repo-harvester/pkg/client"
)

var (
	apiEndpoint string
	waitForJob  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage collections on an API server",
	Long:  `Start, inspect and stop background collections running on a repo-harvester API server.`,
}

var jobsStartCmd = &cobra.Command{
	Use:   "start [repository-url]",
	Short: "Start a background collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStart,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop [job-id]",
	Short: "Stop a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStop,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections of the server",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&apiEndpoint, "api", "", "API endpoint (default is API_ENDPOINT)")

	jobsStartCmd.Flags().BoolVar(&collectCommits, "commits", false, "collect commits")
	jobsStartCmd.Flags().BoolVar(&collectIssues, "issues", false, "collect issues")
	jobsStartCmd.Flags().BoolVar(&collectPulls, "pulls", false, "collect pull requests")
	jobsStartCmd.Flags().BoolVar(&collectBranches, "branches", false, "collect branches")
	jobsStartCmd.Flags().BoolVar(&collectAll, "all", false, "collect every kind")
	jobsStartCmd.Flags().BoolVar(&waitForJob, "wait", false, "wait until the collection finishes")

	jobsCmd.AddCommand(jobsStartCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsStopCmd)
	jobsCmd.AddCommand(jobsListCmd)
}

func apiClient() (*client.Client, error) {
	if apiEndpoint != "" {
		return client.NewClient(apiEndpoint), nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.APIEndpoint), nil
}

func runJobsStart(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	var kinds []string
	for _, kind := range selectedKinds() {
		kinds = append(kinds, string(kind))
	}

	ctx := context.Background()
	snap, err := c.StartCollection(ctx, client.CollectionRequest{
		RepositoryURL: args[0],
		Start:         startDate,
		End:           endDate,
		Kinds:         kinds,
	})
	if err != nil {
		return err
	}

	if waitForJob {
		fmt.Fprintf(os.Stderr, "Waiting for job %s...\n", snap.ID)
		if snap, err = c.WaitForCollection(ctx, snap.ID, time.Second); err != nil {
			return err
		}
	}

	printSnapshot(snap)
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	snap, err := c.GetCollection(context.Background(), args[0])
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func runJobsStop(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	snap, err := c.StopCollection(context.Background(), args[0])
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	snaps, err := c.ListCollections(context.Background())
	if err != nil {
		return err
	}

	if outputJSON {
		printJSON(snaps)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Job", "Repository", "Window", "Status", "Done"})
	for _, s := range snaps {
		table.Append([]string{
			s.ID,
			s.Run.Repository.FullName(),
			s.Run.Window.String(),
			string(s.Run.Status),
			strconv.FormatBool(s.Done),
		})
	}
	table.Render()
	return nil
}

func printSnapshot(snap *jobs.Snapshot) {
	if outputJSON {
		printJSON(snap)
		return
	}

	fmt.Printf("Job:        %s\n", snap.ID)
	fmt.Printf("Repository: %s\n", snap.Run.Repository.FullName())
	fmt.Printf("Window:     %s\n", snap.Run.Window)
	fmt.Printf("Status:     %s\n", snap.Run.Status)
	if snap.Text != "" {
		fmt.Printf("\n%s\n", snap.Text)
	}
	if snap.Error != "" {
		fmt.Printf("\nError: %s\n", snap.Error)
	}
}
