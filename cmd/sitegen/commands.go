package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hmle/sitegen/internal/cache"
	"github.com/hmle/sitegen/internal/status"
)

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and publish a website for a business",
	Long: `Generate and publish a website for a business.

Example:
  sitegen generate --tax-code 0123456789 \
    --palette warm --style corporate \
    --wp-url https://shop.example \
    --wp-username admin --wp-password "xxxx xxxx xxxx xxxx"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taxCode, _ := cmd.Flags().GetString("tax-code")
		palette, _ := cmd.Flags().GetString("palette")
		style, _ := cmd.Flags().GetString("style")
		wpURL, _ := cmd.Flags().GetString("wp-url")
		wpUsername, _ := cmd.Flags().GetString("wp-username")
		wpPassword, _ := cmd.Flags().GetString("wp-password")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/generate", map[string]any{
			"tax_code":      taxCode,
			"color_palette": palette,
			"website_style": style,
			"wp_url":        wpURL,
			"wp_username":   wpUsername,
			"wp_password":   wpPassword,
		})
		if err != nil {
			return err
		}

		var result struct {
			SessionID string `json:"session_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Started session %s", result.SessionID)
		if !wait {
			printStep("Follow along with: sitegen progress %s --follow", result.SessionID)
			return nil
		}

		if err := followProgress(cmd.Context(), client, result.SessionID); err != nil {
			return err
		}
		return printResults(cmd.Context(), client, result.SessionID)
	},
}

func init() {
	generateCmd.Flags().String("tax-code", "", "business tax code (10 or 13 digits)")
	generateCmd.Flags().String("palette", "", "color palette name")
	generateCmd.Flags().String("style", "", "website style, e.g. corporate or creative")
	generateCmd.Flags().String("wp-url", "", "WordPress site URL")
	generateCmd.Flags().String("wp-username", "", "WordPress username")
	generateCmd.Flags().String("wp-password", "", "WordPress application password")
	generateCmd.Flags().Bool("wait", true, "wait for the session to finish")
}

// --- progress ---

var progressCmd = &cobra.Command{
	Use:   "progress <session-id>",
	Short: "Show progress of a generation session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if follow {
			return followProgress(cmd.Context(), client, args[0])
		}

		st, err := fetchProgress(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printProgress(st)
		return nil
	},
}

func init() {
	progressCmd.Flags().Bool("follow", false, "poll until the session finishes")
}

func fetchProgress(ctx context.Context, client *apiClient, sessionID string) (status.Status, error) {
	var st status.Status
	resp, err := client.get(ctx, "/api/progress/"+url.PathEscape(sessionID))
	if err != nil {
		return st, err
	}
	if err := decodeJSON(resp, &st); err != nil {
		return st, err
	}
	return st, nil
}

func printProgress(st status.Status) {
	printStatus("stage", "%s", st.Stage)
	printStatus("progress", "%d%%", st.Progress)
	printStatus("message", "%s", st.Message)
	if st.Error != "" {
		printError("%s", st.Error)
	}
}

var pollInterval = 2 * time.Second

// followProgress polls until the session reaches a terminal state. A few
// consecutive poll failures are tolerated so a server restart or a slow
// stage does not abort the watch.
func followProgress(ctx context.Context, client *apiClient, sessionID string) error {
	const maxFailures = 5

	failures := 0
	lastMessage := ""
	for {
		st, err := fetchProgress(ctx, client, sessionID)
		if err != nil {
			failures++
			if failures >= maxFailures {
				return fmt.Errorf("lost track of session %s: %w", sessionID, err)
			}
		} else {
			failures = 0
			if st.Message != lastMessage {
				printStep("[%s %3d%%] %s", st.Stage, st.Progress, st.Message)
				lastMessage = st.Message
			}
			if st.Error != "" {
				printError("generation failed: %s", st.Error)
				return fmt.Errorf("session %s failed", sessionID)
			}
			if st.Completed {
				printSuccess("Session %s finished", sessionID)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// --- results ---

var resultsCmd = &cobra.Command{
	Use:   "results <session-id>",
	Short: "Show the final result of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return printResults(cmd.Context(), client, args[0])
	},
}

func printResults(ctx context.Context, client *apiClient, sessionID string) error {
	resp, err := client.get(ctx, "/api/results/"+url.PathEscape(sessionID))
	if err != nil {
		return err
	}

	var result any
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// --- business ---

var businessCmd = &cobra.Command{
	Use:   "business",
	Short: "Look up business information by tax code",
}

var businessLookupCmd = &cobra.Command{
	Use:   "lookup <tax-code>",
	Short: "Collect and show business information for a tax code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Collecting business information for %s...", args[0])
		resp, err := client.get(cmd.Context(), "/api/business/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var info any
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

var businessValidateCmd = &cobra.Command{
	Use:   "validate <tax-code>",
	Short: "Check whether a tax code is well-formed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/business/validate?tax_code="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			TaxCode string `json:"tax_code"`
			Valid   bool   `json:"valid"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Valid {
			printSuccess("%s is a valid tax code", result.TaxCode)
			return nil
		}
		printError("%s is not a valid tax code", result.TaxCode)
		return fmt.Errorf("invalid tax code")
	},
}

func init() {
	businessCmd.AddCommand(businessLookupCmd)
	businessCmd.AddCommand(businessValidateCmd)
}

// --- wordpress ---

var wordpressCmd = &cobra.Command{
	Use:   "wordpress",
	Short: "WordPress helpers",
}

var wordpressTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test WordPress credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		wpURL, _ := cmd.Flags().GetString("url")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/wordpress/test", map[string]any{
			"wp_url":      wpURL,
			"wp_username": username,
			"wp_password": password,
		})
		if err != nil {
			return err
		}

		var result struct {
			Success bool   `json:"success"`
			User    string `json:"user"`
			Error   string `json:"error"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !result.Success {
			printError("connection failed: %s", result.Error)
			return fmt.Errorf("wordpress connection failed")
		}
		printSuccess("Connected as %s", result.User)
		return nil
	},
}

func init() {
	wordpressTestCmd.Flags().String("url", "", "WordPress site URL")
	wordpressTestCmd.Flags().String("username", "", "WordPress username")
	wordpressTestCmd.Flags().String("password", "", "WordPress application password")
	wordpressCmd.AddCommand(wordpressTestCmd)
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-namespace entry counts and sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/cache/stats")
		if err != nil {
			return err
		}

		var stats cache.Stats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		if !stats.Enabled {
			printWarning("cache is disabled")
		}
		printStatus("dir", "%s", stats.Dir)
		for ns, s := range stats.Namespaces {
			printStatus(ns, "%d entries, %d bytes", s.Entries, s.TotalBytes)
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/cache/entries?namespace=%s&limit=%d", url.QueryEscape(namespace), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Entries []cache.EntryInfo `json:"entries"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, e := range result.Entries {
			state := ""
			if e.Expired {
				state = " (expired)"
			}
			if e.Corrupt {
				state = " (corrupt)"
			}
			printStatus(e.Namespace, "%s  %d bytes%s", e.File, e.SizeBytes, state)
		}
		if len(result.Entries) == 0 {
			printStep("no entries")
		}
		return nil
	},
}

var cacheViewCmd = &cobra.Command{
	Use:   "view <namespace> <key>",
	Short: "Show one cache entry with its metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/cache/entries/view?namespace=%s&key=%s",
			url.QueryEscape(args[0]), url.QueryEscape(args[1]))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var env cache.Envelope
		if err := decodeJSON(resp, &env); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	},
}

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump cache entries as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/cache/export?namespace="+url.QueryEscape(namespace))
		if err != nil {
			return err
		}

		var export any
		if err := decodeJSON(resp, &export); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(export)
	},
}

var cacheSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cached payloads for a substring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/cache/search?q=%s&namespace=%s",
			url.QueryEscape(args[0]), url.QueryEscape(namespace))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Hits []cache.SearchHit `json:"hits"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, h := range result.Hits {
			printStatus(h.Namespace, "%s  %s", h.File, h.Snippet)
		}
		if len(result.Hits) == 0 {
			printStep("no matches")
		}
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired and corrupt cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/cache/cleanup", nil)
		if err != nil {
			return err
		}

		var result struct {
			Removed int `json:"removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %d entries", result.Removed)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cache entries (one namespace, or everything)",
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/cache/?namespace="+url.QueryEscape(namespace))
		if err != nil {
			return err
		}

		var result struct {
			Cleared bool `json:"cleared"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if namespace == "" {
			printSuccess("Cleared all namespaces")
		} else {
			printSuccess("Cleared namespace %s", namespace)
		}
		return nil
	},
}

func init() {
	cacheListCmd.Flags().String("namespace", "", "restrict to one namespace")
	cacheListCmd.Flags().Int("limit", 50, "maximum entries to list")
	cacheExportCmd.Flags().String("namespace", "", "restrict to one namespace")
	cacheSearchCmd.Flags().String("namespace", "", "restrict to one namespace")
	cacheClearCmd.Flags().String("namespace", "", "namespace to clear (empty clears everything)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheViewCmd)
	cacheCmd.AddCommand(cacheExportCmd)
	cacheCmd.AddCommand(cacheSearchCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
