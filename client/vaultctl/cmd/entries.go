package cmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yeti47/cryovault/core/vault"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List vault entries",
	Args:  cobra.NoArgs,
	RunE:  listEntries,
}

var addCmd = &cobra.Command{
	Use:   "add [name] [username]",
	Short: "Add an entry, prompting for its password",
	Args:  cobra.ExactArgs(2),
	RunE:  addEntry,
}

var editCmd = &cobra.Command{
	Use:   "edit [id] [name] [username]",
	Short: "Replace an entry, prompting for its new password",
	Args:  cobra.ExactArgs(3),
	RunE:  editEntry,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := app.vault.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted entry %d\n", id)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [csv-file]",
	Short: "Import entries from a CSV file with name,username,password columns",
	Args:  cobra.ExactArgs(1),
	RunE:  importEntries,
}

var (
	showPasswords bool
	outputJSON    bool
)

func init() {
	listCmd.Flags().BoolVar(&showPasswords, "show", false, "print decrypted passwords")
	listCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(listCmd, addCmd, editCmd, deleteCmd, importCmd)
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

type listedEntry struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Password string   `json:"password,omitempty"`
	Files    []string `json:"files,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func listEntries(cmd *cobra.Command, args []string) error {
	entries, err := app.vault.RetrieveDecrypted(cmd.Context())
	if err != nil {
		return err
	}

	listed := make([]listedEntry, 0, len(entries))
	for _, entry := range entries {
		item := listedEntry{ID: entry.ID, Name: entry.Name, Username: entry.Username}
		for _, file := range entry.Files {
			item.Files = append(item.Files, fmt.Sprintf("%d:%s", file.ID, file.Name))
		}
		switch {
		case entry.Err != nil:
			item.Error = entry.Err.Error()
		case showPasswords:
			item.Password = entry.Password
		}
		listed = append(listed, item)
	}

	if outputJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(listed)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tPASSWORD\tFILES")
	for _, item := range listed {
		password := "********"
		switch {
		case item.Error != "":
			password = "<" + item.Error + ">"
		case showPasswords:
			password = item.Password
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", item.ID, item.Name, item.Username, password, strings.Join(item.Files, ", "))
	}
	return w.Flush()
}

func addEntry(cmd *cobra.Command, args []string) error {
	password, err := readSecret("Password: ")
	if err != nil {
		return err
	}

	id, err := app.vault.Add(cmd.Context(), vault.Credentials{Name: args[0], Username: args[1], Password: password})
	if err != nil {
		return err
	}
	fmt.Printf("Added entry %d\n", id)
	return nil
}

func editEntry(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	password, err := readSecret("New password: ")
	if err != nil {
		return err
	}

	if err := app.vault.Edit(cmd.Context(), id, vault.Credentials{Name: args[1], Username: args[2], Password: password}); err != nil {
		return err
	}
	fmt.Printf("Updated entry %d\n", id)
	return nil
}

func importEntries(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer file.Close()

	entries, err := readCSVEntries(file)
	if err != nil {
		return err
	}

	err = app.vault.AddBatch(cmd.Context(), entries)
	if batchErr, ok := vault.AsBatchError(err); ok {
		for _, failure := range batchErr.Failures {
			fmt.Fprintf(os.Stderr, "%s: %s\n", failure.Name, failure.Message)
		}
		fmt.Printf("Imported %d of %d entries\n", len(entries)-len(batchErr.Failures), len(entries))
		return errors.New("some entries were not imported")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d entries\n", len(entries))
	return nil
}

// readCSVEntries parses name,username,password rows. A header row naming those
// columns is skipped.
func readCSVEntries(r io.Reader) ([]vault.Credentials, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) > 0 && strings.EqualFold(records[0][0], "name") && strings.EqualFold(records[0][2], "password") {
		records = records[1:]
	}

	entries := make([]vault.Credentials, 0, len(records))
	for i, record := range records {
		if record[0] == "" {
			return nil, fmt.Errorf("row %d: name is empty", i+1)
		}
		entries = append(entries, vault.Credentials{Name: record[0], Username: record[1], Password: record[2]})
	}
	return entries, nil
}
