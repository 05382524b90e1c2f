package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"deepscan/internal/api"
	"deepscan/internal/embedcache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the daemon's cache",
	}
	cmd.AddCommand(newCacheKeysCommand(ctx))
	cmd.AddCommand(newCacheInvalidateCommand(ctx))
	cmd.AddCommand(newCacheParseKeyCommand(ctx))
	return cmd
}

func newCacheKeysCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [pattern]",
		Short: "List cache keys matching a glob pattern (default *)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			resp, err := client.CacheKeys(cmd.Context(), pattern)
			if err != nil {
				return wrapAPIError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			for _, key := range resp.Keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove cache keys matching a glob pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.InvalidateCache(cmd.Context(), args[0])
			if err != nil {
				return wrapAPIError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d key(s) matching %s\n", resp.Removed, resp.Pattern)
			return nil
		},
	}
}

// parse-key works offline: the key grammar is local, so the daemon is not
// consulted.
func newCacheParseKeyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "parse-key <key>",
		Short:       "Decode a cache key into its parts",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := embedcache.ParseKey(args[0])
			if err != nil {
				return err
			}
			parsed, err := json.Marshal(key)
			if err != nil {
				return err
			}
			resp := api.ParsedKeyResponse{Key: key.String(), Class: string(key.Class()), Parsed: parsed}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "class: %s\nparts: %s\n", resp.Class, parsed)
			return nil
		},
	}
}
