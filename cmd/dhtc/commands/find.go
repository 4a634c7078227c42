package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/dhtc/internal/filter"
	"github.com/dyluth/dhtc/internal/printer"
	"github.com/dyluth/dhtc/pkg/dht"
)

func newFindCmd(opts *globalOptions) *cobra.Command {
	var (
		raw    bool
		first  bool
		match  []string
		output string
	)

	cmd := &cobra.Command{
		Use:   "find KEY",
		Short: "Search the DHT for values stored under a key",
		Long: `Connect, search for KEY and print every value found, then disconnect.

The key is hashed into the DHT key space unless --raw is given, in which
case it is used verbatim and must fit into 16 bytes.

Examples:
  # Search using the configured engine
  dhtc find song

  # Stop at the first hit
  dhtc find --first song

  # Only show mp3 files, as JSONL for jq
  dhtc find song --match name='*.mp3' --output jsonl | jq .digest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "default" && output != "jsonl" {
				return printer.Error("invalid output format",
					fmt.Sprintf("Unknown format: %s", output),
					[]string{"Valid formats: default, jsonl"})
			}
			criteria, err := filter.Parse(match)
			if err != nil {
				return printer.Error("invalid filter", err.Error(), nil)
			}
			key := dht.KeyString(args[0])
			if raw {
				key = dht.RawKey([]byte(args[0]))
			}
			req := findRequest{key: key, first: first, criteria: criteria, jsonl: output == "jsonl"}
			return withSession(cmd.Context(), opts, func(ctx context.Context, s *session) error {
				return runFind(ctx, s, req)
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Use the key verbatim instead of hashing it")
	cmd.Flags().BoolVar(&first, "first", false, "Stop the search after the first hit")
	cmd.Flags().StringArrayVar(&match, "match", nil, "Only show values whose metadata matches name=glob (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "default", "Output format: default or jsonl")
	return cmd
}

type findRequest struct {
	key      dht.Key
	first    bool
	criteria *filter.Criteria
	jsonl    bool
}

func runFind(ctx context.Context, s *session, req findRequest) error {
	key, first := req.key, req.first
	hits := 0
	var result outcome
	var writeErr error
	handler := &dht.SearchFuncs{
		Found: func(k dht.Key, v dht.Value) bool {
			if !req.criteria.Matches(v) {
				return false
			}
			hits++
			if req.jsonl {
				if err := printer.HitJSONL(k, v); err != nil && writeErr == nil {
					writeErr = err
				}
			} else {
				printer.Hit(hits, v)
			}
			return first
		},
		Success: func(dht.Key) { result.done, result.ok = true, true },
		Failure: func(_ dht.Key, code int, reason string) {
			result.done, result.code, result.reason = true, code, reason
		},
	}

	if err := s.client.Find(key, handler); err != nil {
		return printer.CallError("find", err)
	}
	stopped := func() bool { return result.done || (first && hits > 0) }
	if err := s.pump(ctx, stopped); err != nil {
		return printer.Error("find interrupted", err.Error(), nil)
	}
	if result.done && !result.ok {
		return printer.Failure("find", result.code, result.reason)
	}

	if writeErr != nil {
		return writeErr
	}
	if req.jsonl {
		return nil
	}
	if hits == 0 {
		printer.Info("no values found for %q\n", key.String())
		return nil
	}
	printer.Success("%d value(s) found\n", hits)
	return nil
}
