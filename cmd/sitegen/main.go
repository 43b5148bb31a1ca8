package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "sitegen",
	Short: "Generate a complete WordPress website for a business from its tax code",
	Long: `sitegen builds and publishes a small-business website: it collects
company information from public registries, writes the site content with an
LLM, publishes pages and blog posts to WordPress, and decorates them with
stock photos.

Run "sitegen serve" to start the server, then "sitegen generate" to submit
a website generation request.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(businessCmd)
	rootCmd.AddCommand(wordpressCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
