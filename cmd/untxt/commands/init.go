package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benfrankstein/untxt-sub002/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a sample untxt configuration file.

The file is created at ./untxt.yaml unless --config names another path.

Examples:
  # Initialize in the working directory
  untxt init

  # Initialize at a custom path
  untxt init --config /etc/untxt/config.yaml

  # Force overwrite an existing file
  untxt init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = "untxt.yaml"
	}

	if err := config.WriteDefault(path, initForce); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the file: set the auth secret, database and object store")
	fmt.Println("  2. Apply the schema: untxt migrate")
	fmt.Println("  3. Start the server: untxt start")
	return nil
}
