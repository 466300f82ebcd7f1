package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/db"
)

var statusProject string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest PR and CI status for each task in a project",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "", "project id")
	_ = statusCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	cache := db.NewStatusCache(database, 5*time.Second)
	statuses, err := cache.TaskStatuses(cmd.Context(), statusProject)
	if err != nil {
		return fmt.Errorf("load task statuses: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Println("no tasks with pull requests")
		return nil
	}

	taskIDs := make([]string, 0, len(statuses))
	for taskID := range statuses {
		taskIDs = append(taskIDs, taskID)
	}
	sort.Strings(taskIDs)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTITLE\tPR\tCI")
	for _, taskID := range taskIDs {
		entry := statuses[taskID]

		title := ""
		if task, err := database.FindTask(cmd.Context(), taskID); err == nil && task != nil {
			title = task.Title
		}

		prStatus, ciStatus := "-", "-"
		if entry.Status != nil {
			prStatus = string(*entry.Status)
		}
		if entry.CIStatus != nil {
			ciStatus = string(*entry.CIStatus)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", taskID, title, prStatus, ciStatus)
	}
	return w.Flush()
}
