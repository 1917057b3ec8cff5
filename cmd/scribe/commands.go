package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivanglie/scribe/internal/config"
)

// --- record ---

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control the live recording session",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start recording a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{}
		if title != "" {
			body["title"] = title
		}
		resp, err := client.post(cmd.Context(), "/v1/record/start", body)
		if err != nil {
			return err
		}

		var sess struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Recording %q (session %s)", sess.Title, shortID(sess.ID))
		return nil
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/record/stop", nil)
		if err != nil {
			return err
		}

		var sess struct {
			ID              string  `json:"id"`
			Title           string  `json:"title"`
			DurationSeconds float64 `json:"duration_seconds"`
			Transcript      string  `json:"transcript"`
		}
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Stopped %q after %.0fs (session %s)", sess.Title, sess.DurationSeconds, shortID(sess.ID))
		if sess.Transcript != "" {
			fmt.Println(sess.Transcript)
		}
		return nil
	},
}

var recordStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a session is recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/record/status")
		if err != nil {
			return err
		}

		var status struct {
			Recording bool   `json:"recording"`
			SessionID string `json:"session_id"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		if status.Recording {
			printStatus("Recording", "session %s", status.SessionID)
		} else {
			printStatus("Recording", "idle")
		}
		return nil
	},
}

func init() {
	recordStartCmd.Flags().String("title", "", "session title (default: timestamped)")
	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)
	recordCmd.AddCommand(recordStatusCmd)
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse and manage recorded sessions",
}

type sessionRecord struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	StartTime       string          `json:"start_time"`
	EndTime         string          `json:"end_time,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	Status          string          `json:"status"`
	AudioFile       string          `json:"audio_file,omitempty"`
	Transcript      string          `json:"transcript,omitempty"`
	Chunks          json.RawMessage `json:"chunks,omitempty"`
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var sessions []sessionRecord
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		for _, s := range sessions {
			fmt.Printf("%s  %s  %7.0fs  %-11s  %s\n",
				colorize(colorCyan, shortID(s.ID)),
				s.StartTime,
				s.DurationSeconds,
				s.Status,
				s.Title,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session with its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+args[0])
		if err != nil {
			return err
		}

		var sess any
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		title := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/v1/sessions/"+id, map[string]string{"title": title})
		if err != nil {
			return err
		}

		var sess sessionRecord
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Renamed session %s to %q", shortID(sess.ID), sess.Title)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session, its chunks, insights, and audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/sessions/"+args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all sessions as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)

		count := 0
		offset := 0
		for {
			resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/sessions?limit=100&offset=%d", offset))
			if err != nil {
				return err
			}
			var sessions []sessionRecord
			if err := decodeJSON(resp, &sessions); err != nil {
				return err
			}
			if len(sessions) == 0 {
				break
			}
			for _, s := range sessions {
				full, err := fetchSession(cmd.Context(), client, s.ID)
				if err != nil {
					return err
				}
				if err := enc.Encode(map[string]any{"type": "session", "data": full}); err != nil {
					return err
				}
				count++
			}
			offset += len(sessions)
		}

		if output != "" {
			printSuccess("Exported %d sessions to %s", count, output)
		}
		return nil
	},
}

func fetchSession(ctx context.Context, client *apiClient, id string) (any, error) {
	resp, err := client.get(ctx, "/v1/sessions/"+id)
	if err != nil {
		return nil, err
	}
	var sess any
	if err := decodeJSON(resp, &sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Generate and view session insights",
}

var insightsGenerateCmd = &cobra.Command{
	Use:   "generate <session-id>",
	Short: "Generate an insight from a session transcript",
	Long: `Generate an insight from a session transcript.

Examples:
  scribe insights generate 0c9a7c41 --type summary
  scribe insights generate 0c9a7c41 --type all
  scribe insights generate 0c9a7c41 --type custom --prompt "List the risks discussed"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		insightType, _ := cmd.Flags().GetString("type")
		prompt, _ := cmd.Flags().GetString("prompt")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"type": insightType}
		if prompt != "" {
			body["prompt"] = prompt
		}

		resp, err := client.post(cmd.Context(), "/v1/sessions/"+args[0]+"/insights", body)
		if err != nil {
			return err
		}

		if insightType == "all" {
			var list []struct {
				Type    string `json:"type"`
				Content string `json:"content"`
			}
			if err := decodeJSON(resp, &list); err != nil {
				return err
			}
			for _, in := range list {
				fmt.Printf("\n%s\n%s\n", colorize(colorBold, in.Type), in.Content)
			}
			return nil
		}

		var in struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &in); err != nil {
			return err
		}
		fmt.Println(in.Content)
		return nil
	},
}

var insightsListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List stored insights for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+args[0]+"/insights")
		if err != nil {
			return err
		}

		var list []struct {
			Type         string `json:"type"`
			Content      string `json:"content"`
			CustomPrompt string `json:"custom_prompt"`
			Model        string `json:"model"`
			GeneratedAt  string `json:"generated_at"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No insights generated.")
			return nil
		}

		for _, in := range list {
			header := in.Type
			if in.CustomPrompt != "" {
				header += " (" + in.CustomPrompt + ")"
			}
			fmt.Printf("\n%s  %s  %s\n%s\n", colorize(colorBold, header), in.Model, in.GeneratedAt, in.Content)
		}
		return nil
	},
}

func init() {
	insightsGenerateCmd.Flags().String("type", "summary", "insight type: summary, action_items, custom, or all")
	insightsGenerateCmd.Flags().String("prompt", "", "custom prompt (required with --type custom)")
	insightsCmd.AddCommand(insightsGenerateCmd)
	insightsCmd.AddCommand(insightsListCmd)
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
