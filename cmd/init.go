package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/syncq/internal/output"
	"github.com/marcus/syncq/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local sync store",
	Long:    `Creates the local .syncq directory and SQLite database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".syncq")); err == nil {
			output.Warning(".syncq/ already exists")
			return nil
		}

		s, err := store.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize store: %v", err)
			return err
		}
		defer s.Close()

		fmt.Println("INITIALIZED .syncq/")

		// Keep the store out of version control when inside a git repo
		if _, err := os.Stat(filepath.Join(baseDir, ".git")); err == nil {
			addToGitignore(filepath.Join(baseDir, ".gitignore"))
		}
		return nil
	},
}

func addToGitignore(path string) {
	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), ".syncq/") {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		f.WriteString("\n")
	}
	f.WriteString(".syncq/\n")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
