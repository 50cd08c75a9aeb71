package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var scriptsPattern string

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Manage scratchpad scripts",
}

var scriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scratchpad scripts matching a pattern",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/scripts"
		if scriptsPattern != "" {
			path += "?pattern=" + url.QueryEscape(scriptsPattern)
		}
		var names []string
		if err := apiDo("GET", path, nil, &names); err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var scriptsWriteCmd = &cobra.Command{
	Use:   "write <name> <file>",
	Short: "Create or update a scratchpad script from a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		req := struct {
			Body string `json:"body"`
		}{Body: string(body)}
		if err := apiDo("PUT", "/api/scripts/"+url.PathEscape(args[0]), req, nil); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", args[0])
		return nil
	},
}

var scriptsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a scratchpad script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGetText("/api/scripts/" + url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		fmt.Print(body)
		return nil
	},
}

var scriptsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a scratchpad script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiDo("DELETE", "/api/scripts/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	scriptsListCmd.Flags().StringVar(&scriptsPattern, "pattern", "", `glob on script base names (default "*.py")`)
	scriptsCmd.AddCommand(scriptsListCmd, scriptsWriteCmd, scriptsShowCmd, scriptsDeleteCmd)
	rootCmd.AddCommand(scriptsCmd)
}
