package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/dhtc/internal/printer"
	"github.com/dyluth/dhtc/pkg/dht"
)

func newDigestCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "digest DATA...",
		Short: "Print the key-space digest of each argument",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, a := range args {
				d, err := dht.DigestOf([]byte(a), !raw)
				if err != nil {
					return printer.Error("cannot map data into the key space", err.Error(),
						[]string{"Drop --raw to hash the data instead"})
				}
				printer.Info("%s  %s\n", d, a)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Zero-pad instead of hashing (max 16 bytes)")
	return cmd
}
