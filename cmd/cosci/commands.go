package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cosci/cosci"
	"github.com/cosci/cosci/internal/config"
	"github.com/cosci/cosci/internal/goal"
)

// --- generate ---

var phaseMessages = map[string]string{
	"SESSION_CREATED":  "Session created",
	"INSTANCE_PENDING": "Waiting for the idea-forge instance...",
	"INSTANCE_ACTIVE":  "Instance active, waiting for ideas...",
	"IDEAS_READY":      "Ideas ready",
}

var generateCmd = &cobra.Command{
	Use:   "generate [goal]",
	Short: "Submit a research goal and wait for ideas",
	Long: `Submit a research goal and wait until the backend has generated ideas.

Examples:
  cosci generate "Top 5 largest countries by land mass"
  cosci generate --goal-file ./proposal.pdf --min-ideas 5 --timeout 10m
  cosci generate --goal "Novel antibiotics for gram-negative bacteria" --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		goalText, err := resolveGoal(cmd, args)
		if err != nil {
			return err
		}
		minIdeas, _ := cmd.Flags().GetInt("min-ideas")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")
		showStats, _ := cmd.Flags().GetBool("stats")

		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		opts := []cosci.GenerateOption{
			cosci.OnPhase(func(_, to cosci.Phase) {
				if msg, ok := phaseMessages[to.String()]; ok {
					printStep("%s", msg)
				}
			}),
		}
		if minIdeas > 0 {
			opts = append(opts, cosci.WithMinIdeas(minIdeas))
		}
		if timeout > 0 {
			opts = append(opts, cosci.WithTimeout(timeout))
		}

		printStep("Submitting research goal: %s", truncate(goalText, 80))
		session, err := client.GenerateIdeas(cmd.Context(), goalText, opts...)
		if err != nil {
			return err
		}

		var ideas []cosci.Idea
		if session.Instance != nil {
			ideas = session.Instance.Ideas
		}
		printSuccess("Session %s produced %d ideas", session.ID, len(ideas))

		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, session); err != nil {
				return err
			}
		} else {
			printIdeas(out, ideas)
		}
		if showStats {
			printStats(out, client.Stats())
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().String("goal", "", "research goal text")
	generateCmd.Flags().String("goal-file", "", "read the research goal from a text or PDF file")
	generateCmd.Flags().Int("min-ideas", 0, "number of ideas to wait for (default from config)")
	generateCmd.Flags().Duration("timeout", 0, "maximum time to wait for ideas (default from config)")
	generateCmd.Flags().Bool("json", false, "print the session as JSON")
	generateCmd.Flags().Bool("stats", false, "print API request statistics when done")
	generateCmd.MarkFlagsMutuallyExclusive("goal", "goal-file")
}

func resolveGoal(cmd *cobra.Command, args []string) (string, error) {
	text, _ := cmd.Flags().GetString("goal")
	file, _ := cmd.Flags().GetString("goal-file")
	switch {
	case file != "":
		return goal.Read(file)
	case text != "":
		return text, nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("a research goal is required: pass it as an argument, --goal or --goal-file")
}

func printIdeas(w io.Writer, ideas []cosci.Idea) {
	if len(ideas) == 0 {
		fmt.Fprintln(w, "No ideas found.")
		return
	}
	for i, idea := range ideas {
		title := idea.Title
		if title == "" {
			title = "(untitled)"
		}
		header := colorize(colorBold, fmt.Sprintf("%d. %s", i+1, title))
		if elo, ok := idea.EloRating(); ok {
			header += fmt.Sprintf(" [elo: %.0f]", elo)
		}
		fmt.Fprintf(w, "\n%s\n", header)
		fmt.Fprintf(w, "  ID: %s\n", idea.ID)
		if c := idea.Category(); c != "" {
			fmt.Fprintf(w, "  Category: %s\n", c)
		}
		if tags := idea.Tags(); len(tags) > 0 {
			fmt.Fprintf(w, "  Tags: %s\n", strings.Join(tags, ", "))
		}
		if idea.Description != "" {
			fmt.Fprintf(w, "  %s\n", truncate(idea.Description, 500))
		}
	}
}

func printStats(w io.Writer, s cosci.StatsSnapshot) {
	fmt.Fprintln(w)
	printStatus(w, "Requests", "%d (%d ok, %d failed)", s.TotalRequests, s.SuccessfulRequests, s.FailedRequests)
	printStatus(w, "Success rate", "%.1f%%", s.SuccessRate()*100)
	printStatus(w, "Avg latency", "%s", s.AverageLatency.Round(time.Millisecond))
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the state of a research session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		st, err := client.GetSessionStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printSessionStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the status as JSON")
}

func printSessionStatus(w io.Writer, st cosci.SessionStatus) {
	printStatus(w, "Session", "%s", st.SessionID)
	if !st.HasInstance {
		printStatus(w, "Instance", "%s", colorize(colorYellow, "not created yet"))
		return
	}
	printStatus(w, "Instance", "%s", st.InstanceID)
	printStatus(w, "State", "%s", st.State)
	printStatus(w, "Ideas", "%d", st.IdeasCount)
	if st.Goal != "" {
		printStatus(w, "Goal", "%s", truncate(st.Goal, 120))
	}
}

// --- ideas ---

var ideasCmd = &cobra.Command{
	Use:   "ideas <session-id>",
	Short: "List the ideas a session has produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, _ := cmd.Flags().GetBool("details")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		ideas, err := client.GetIdeas(cmd.Context(), args[0], details)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), ideas)
		}
		printIdeas(cmd.OutOrStdout(), ideas)
		return nil
	},
}

func init() {
	ideasCmd.Flags().Bool("details", false, "fetch full records for reference-only ideas")
	ideasCmd.Flags().Bool("json", false, "print ideas as JSON")
}

// --- idea ---

var ideaCmd = &cobra.Command{
	Use:   "idea <session-id> <instance-id> <idea-id>",
	Short: "Show a single idea",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		idea, err := client.GetIdea(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), idea)
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List research sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		withStatus, _ := cmd.Flags().GetBool("statuses")

		client, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		sessions, err := client.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		if !withStatus {
			for _, s := range sessions {
				started := "-"
				if s.StartTime != nil {
					started = s.StartTime.Format(time.RFC3339)
				}
				instance := "no instance"
				if s.HasInstance() {
					instance = "instance"
				}
				fmt.Fprintf(out, "%s  %s  %s  %s\n", colorize(colorCyan, s.ID), started, s.State, instance)
			}
			return nil
		}

		statuses, err := client.ListSessionStatuses(cmd.Context(), sessions)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			if st.Err != nil {
				fmt.Fprintf(out, "%s  %s\n", colorize(colorCyan, st.SessionID), colorize(colorRed, st.Err.Error()))
				continue
			}
			state := st.State
			if !st.HasInstance {
				state = "NO_INSTANCE"
			}
			fmt.Fprintf(out, "%s  %s  %d ideas\n", colorize(colorCyan, st.SessionID), state, st.IdeasCount)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Bool("statuses", false, "fetch lifecycle status of every session")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if err := cfg.Validate(); err != nil {
			printWarning("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
