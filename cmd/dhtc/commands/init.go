package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/dhtc/internal/printer"
	"github.com/dyluth/dhtc/internal/scaffold"
)

func newInitCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter dhtc.yml and contact file",
		Long: `Create dhtc.yml and contacts.txt with commented defaults.

Use --force to overwrite existing files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := scaffold.Initialize(dir, force)
			if err != nil {
				return printer.Error("initialization failed", err.Error(), nil)
			}
			printer.Success("Initialized dhtc configuration\n")
			for _, path := range created {
				printer.Info("  ✓ %s\n", path)
			}
			printer.Info("\nNext steps:\n  1. Add bootstrap contacts to contacts.txt\n  2. Choose an engine in dhtc.yml\n  3. Run 'dhtc serve'\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to initialize")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}
