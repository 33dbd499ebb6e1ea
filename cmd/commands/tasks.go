package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/missionctl/internal/config"
	"github.com/dohr-michael/missionctl/internal/store"
	"github.com/dohr-michael/missionctl/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect the task board",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status",
					},
					&cli.StringFlag{
						Name:  "workspace",
						Usage: "Filter by workspace id",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
		},
		DefaultCommand: "list",
	}
}

func openStore(cmd *cli.Command) (*store.Store, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}
	return store.Open(cfg.Store.Path)
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	list, err := st.ListTasks(ctx, store.TaskFilter{
		Status:      tasks.Status(cmd.String("status")),
		WorkspaceID: cmd.String("workspace"),
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tAGENT\tTITLE")
	for _, t := range list {
		agent := t.AssignedAgentID
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, agent, t.Title)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: missionctl tasks show <task_id>")
	}

	st, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	t, err := st.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Priority:    %s\n", t.Priority)
	fmt.Printf("Type:        %s\n", t.Type)
	fmt.Printf("Workspace:   %s\n", t.WorkspaceID)
	if t.AssignedAgentID != "" {
		fmt.Printf("Agent:       %s\n", t.AssignedAgentID)
	}
	if t.InitiativeID != "" {
		fmt.Printf("Initiative:  %s\n", t.InitiativeID)
	}
	if t.ExternalRequestID != "" {
		fmt.Printf("Request:     %s (%s)\n", t.ExternalRequestID, t.Source)
	}
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
	if t.DueAt != nil {
		fmt.Printf("Due:         %s\n", t.DueAt.Format("2006-01-02 15:04:05"))
	}

	if t.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", t.Description)
	}

	trail, err := st.TaskEvents(ctx, taskID)
	if err == nil && len(trail) > 0 {
		fmt.Println("\nHistory:")
		for _, ev := range trail {
			fmt.Printf("  [%s] %s: %s\n", ev.CreatedAt.Format("15:04:05"), ev.Type, ev.Message)
		}
	}

	return nil
}
