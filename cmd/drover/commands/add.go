package commands

import (
	"context"
	"time"

	"github.com/drover-ai/drover/internal/printer"
	"github.com/drover-ai/drover/pkg/board"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	addTitle       string
	addDescription string
	addType        string
	addPriority    string
	addProjectID   string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Seed a work item into the pipeline",
	Long: `Create a ready work item on the board, making it immediately claimable
by whichever agent type's routing table lists its type.

Examples:
  # Kick off a new project
  drover add --title "Billing revamp" --type project_spec --description "..."

  # File a high priority bug straight to the developer stage
  drover add --title "Fix login redirect" --type bug --priority high`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addTitle, "title", "", "Work item title (required)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "Work item description")
	addCmd.Flags().StringVar(&addType, "type", "project_spec", "Work item type")
	addCmd.Flags().StringVar(&addPriority, "priority", "medium", "Priority: low, medium, high or critical")
	addCmd.Flags().StringVar(&addProjectID, "project", "", "Project ID (a new one is minted if omitted)")
	addCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	_, client, err := loadConfigAndClient()
	if err != nil {
		return printer.Errorf("failed to initialize: %v", err)
	}
	defer client.Close()

	projectID := addProjectID
	if projectID == "" {
		projectID = uuid.New().String()
	}

	now := time.Now().UnixMilli()
	item := &board.WorkItem{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Title:       addTitle,
		Description: addDescription,
		Type:        addType,
		Priority:    board.Priority(addPriority),
		Status:      board.StatusReady,
		Metadata:    map[string]any{"created_by": "cli"},
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.CreateItem(ctx, item); err != nil {
		return printer.Errorf("failed to create work item: %v", err)
	}

	printer.Success("created %s item %s in project %s", item.Type, item.ID, projectID)
	return nil
}
