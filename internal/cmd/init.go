package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/attack-surface/asm/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .asm directory, config and history",
	Long: `Initialize the .asm directory in the current directory.

This writes a default configuration and creates the Dolt history that 'asm
build' records its runs in. The graph cache is created on first use.

Examples:
  asm init          # Initialize with .asm/config.yaml
  asm init --toml   # Write .asm/config.toml instead
  asm init --force  # Overwrite an existing config`,
	RunE: runInit,
}

var (
	initForce bool
	initTOML  bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initTOML, "toml", false, "Write the config as TOML")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	asmDir := filepath.Join(cwd, config.ConfigDirName)

	name := config.ConfigFileName
	if initTOML {
		name = config.TOMLConfigFileName
	}
	cfgPath := filepath.Join(asmDir, name)

	_, err = os.Stat(cfgPath)
	switch {
	case err == nil && !initForce:
		relPath, _ := filepath.Rel(cwd, cfgPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Already initialized at %s\n", relPath)
		return nil
	case err == nil:
		if err := os.Remove(cfgPath); err != nil {
			return fmt.Errorf("removing existing config: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("checking config path: %w", err)
	}

	written, err := config.SaveDefault(cwd, initTOML)
	if err != nil {
		return err
	}

	// Open the history once so the Dolt repo and schema exist.
	s, err := openStore(asmDir)
	if err != nil {
		return err
	}
	defer s.Close()

	relPath, _ := filepath.Rel(cwd, written)
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized asm at %s\n", relPath)
	return nil
}
