package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/dhtc/internal/printer"
	"github.com/dyluth/dhtc/pkg/dht"
)

func newStoreCmd(opts *globalOptions) *cobra.Command {
	var (
		raw  bool
		meta []string
	)

	cmd := &cobra.Command{
		Use:   "store KEY VALUE",
		Short: "Publish a value under a key",
		Long: `Connect, publish VALUE under KEY with optional metadata, then disconnect.

Examples:
  dhtc store song song.mp3 --meta type=audio --meta size=4096
  dhtc store song song.mp3 --meta "type=audio;size=4096"

  # Store 16-byte identifiers verbatim
  dhtc store --raw 0123456789abcdef fedcba9876543210`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMeta(meta)
			if err != nil {
				return printer.Error("invalid metadata", err.Error(),
					[]string{"Pass metadata as --meta name=value"})
			}
			key, value := dht.KeyString(args[0]), dht.ValueString(args[1], md)
			if raw {
				key, value = dht.RawKey([]byte(args[0])), dht.RawValue([]byte(args[1]), md)
			}
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				return runStore(ctx, s, key, value)
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Use key and value verbatim instead of hashing them")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Metadata as name=value, or several joined with ';' (repeatable)")
	return cmd
}

// parseMeta merges every --meta flag. A flag may carry several pairs joined with ';'.
func parseMeta(flags []string) (dht.Metadata, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	md := make(dht.Metadata, len(flags))
	for _, f := range flags {
		pairs, err := dht.ParseMetadata(f)
		if err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("empty metadata flag")
		}
		for k, v := range pairs {
			md[k] = v
		}
	}
	return md, nil
}

func runStore(ctx context.Context, s *session, key dht.Key, value dht.Value) error {
	var result outcome
	if err := s.client.Store(key, value, result.handler()); err != nil {
		return printer.CallError("store", err)
	}
	if err := s.pump(ctx, result.finished); err != nil {
		return printer.Error("store interrupted", err.Error(), nil)
	}
	if !result.ok {
		return printer.Failure("store", result.code, result.reason)
	}
	if md := value.Meta(); len(md) > 0 {
		printer.Success("stored %q under %q (%s)\n", value.String(), key.String(), md.Encode())
		return nil
	}
	printer.Success("stored %q under %q\n", value.String(), key.String())
	return nil
}
