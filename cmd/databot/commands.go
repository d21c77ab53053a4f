package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/databot-io/databot/internal/config"
)

// userFor resolves the acting user from --user (or DATABOT_USER) into a
// stable user ID via the login endpoint.
func userFor(cmd *cobra.Command, client *apiClient) (int64, error) {
	username, _ := cmd.Flags().GetString("user")
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("no user set: pass --user <name> or set DATABOT_USER")
	}
	return client.login(cmd.Context(), username)
}

func datasetPath(userID int64, name string) string {
	return fmt.Sprintf("/users/%d/datasets/%s", userID, url.PathEscape(name))
}

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Create or look up a user by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(args[0])
		if username == "" {
			return fmt.Errorf("username must not be empty")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		id, err := client.login(cmd.Context(), username)
		if err != nil {
			return err
		}

		printSuccess("Logged in as %s (user %d)", username, id)
		return nil
	},
}

// --- datasets ---

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List saved datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%d/datasets", userID))
		if err != nil {
			return err
		}

		var result struct {
			Datasets []string `json:"datasets"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Datasets) == 0 {
			fmt.Println("No datasets saved.")
			return nil
		}
		for _, name := range result.Datasets {
			fmt.Println(name)
		}
		return nil
	},
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.csv>",
	Short: "Upload a CSV file as a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(path)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening file: %w", err)
		}
		defer f.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		resp, err := client.putCSV(cmd.Context(), datasetPath(userID, name), f)
		if err != nil {
			return err
		}

		var result struct {
			Name string `json:"name"`
			Rows int    `json:"rows"`
			Cols int    `json:"cols"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Saved %s (%d rows, %d columns)", result.Name, result.Rows, result.Cols)
		return nil
	},
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download <name>",
	Short: "Download a dataset as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), datasetPath(userID, args[0]))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		if _, err := io.Copy(writer, resp.Body); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		if output != "" {
			printSuccess("Downloaded %s to %s", args[0], output)
		}
		return nil
	},
}

// --- clean ---

var cleanCmd = &cobra.Command{
	Use:   "clean <name>",
	Short: "Clean a dataset and save the result under a derived name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		resp, err := client.postJSON(cmd.Context(), datasetPath(userID, args[0])+"/clean", nil)
		if err != nil {
			return err
		}

		var result struct {
			CleanedName string `json:"cleaned_name"`
			Rows        int    `json:"rows"`
			Warning     string `json:"warning"`
			Report      struct {
				Steps []struct {
					Action string `json:"action"`
					Count  int    `json:"count"`
				} `json:"steps"`
			} `json:"report"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleaned into %s (%d rows)", result.CleanedName, result.Rows)
		for _, step := range result.Report.Steps {
			printStep("%s: %d", step.Action, step.Count)
		}
		if result.Warning != "" {
			printWarning("%s", result.Warning)
		}
		return nil
	},
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary <name>",
	Short: "Show per-column summary statistics for a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), datasetPath(userID, args[0])+"/summary")
		if err != nil {
			return err
		}

		var summary any
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <name> <question>",
	Short: "Ask the assistant a question about a dataset",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		body := map[string]any{"message": question}
		resp, err := client.postJSON(cmd.Context(), datasetPath(userID, args[0])+"/chat", body)
		if err != nil {
			return err
		}

		var result struct {
			Response string `json:"response"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent chat history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		userID, err := userFor(cmd, client)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%d/chat?limit=%d", userID, limit))
		if err != nil {
			return err
		}

		var result struct {
			History []struct {
				Message   string `json:"message"`
				Response  string `json:"response"`
				Timestamp string `json:"timestamp"`
			} `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.History) == 0 {
			fmt.Println("No chat history.")
			return nil
		}
		for _, turn := range result.History {
			fmt.Printf("%s %s\n", colorize(colorCyan, turn.Timestamp), colorize(colorBold, turn.Message))
			fmt.Printf("  %s\n", turn.Response)
		}
		return nil
	},
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
	uploadCmd.Flags().String("name", "", "dataset name (default: file basename)")
	downloadCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyCmd.Flags().Int("limit", 20, "maximum number of turns to show")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
