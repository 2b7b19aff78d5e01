package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yeti47/cryovault/core/vault"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage encrypted attachments",
}

var fileAddCmd = &cobra.Command{
	Use:   "add [entry-id] [path]",
	Short: "Encrypt a file and attach it to an entry",
	Args:  cobra.ExactArgs(2),
	RunE:  addFile,
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete [file-id]",
	Short: "Delete an attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := app.vault.DeleteFile(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted file %d\n", id)
		return nil
	},
}

var fileGetCmd = &cobra.Command{
	Use:   "get [file-id] [output-path]",
	Short: "Download and decrypt an attachment",
	Args:  cobra.ExactArgs(2),
	RunE:  getFile,
}

func init() {
	fileCmd.AddCommand(fileAddCmd, fileDeleteCmd, fileGetCmd)
	rootCmd.AddCommand(fileCmd)
}

func addFile(cmd *cobra.Command, args []string) error {
	entryID, err := parseID(args[0])
	if err != nil {
		return err
	}

	file, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[1], err)
	}
	defer file.Close()

	id, err := app.vault.AddFile(cmd.Context(), entryID, filepath.Base(args[1]), file)
	if err != nil {
		return err
	}
	fmt.Printf("Attached file %d to entry %d\n", id, entryID)
	return nil
}

func getFile(cmd *cobra.Command, args []string) error {
	fileID, err := parseID(args[0])
	if err != nil {
		return err
	}

	entries, err := app.vault.Retrieve(cmd.Context())
	if err != nil {
		return err
	}
	var found *vault.File
	for i := range entries {
		for j := range entries[i].Files {
			if entries[i].Files[j].ID == fileID {
				found = &entries[i].Files[j]
			}
		}
	}
	if found == nil {
		return fmt.Errorf("file %d not found", fileID)
	}

	content, err := app.vault.DecryptFile(*found)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], content.Data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[1], err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", content.Name, len(content.Data))
	return nil
}
