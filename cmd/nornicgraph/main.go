// Package main provides the NornicGraph CLI entry point.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicgraph",
		Short: "NornicGraph - cached property graph over BadgerDB",
		Long: `NornicGraph stores vertices and edges in BadgerDB and serves
traversals through per-vertex adjacency caches.

Index rows and records are written separately; stale index rows found
while reading are cleaned up in the background.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", getEnvStr("NORNICGRAPH_CONFIG", ""), "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NornicGraph v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Init command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize a new NornicGraph data directory",
		RunE:  runInit,
	})

	// Vertex commands
	vertexCmd := &cobra.Command{
		Use:   "vertex",
		Short: "Vertex operations",
	}
	vertexAddCmd := &cobra.Command{
		Use:   "add <label> [key=value...]",
		Short: "Add a vertex",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runVertexAdd,
	}
	vertexAddCmd.Flags().String("id", "", "Vertex id (default: random UUID)")
	vertexCmd.AddCommand(vertexAddCmd)
	vertexCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a vertex and its properties",
		Args:  cobra.ExactArgs(1),
		RunE:  runVertexGet,
	})
	vertexCmd.AddCommand(&cobra.Command{
		Use:   "set <id> key=value...",
		Short: "Set vertex properties",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runVertexSet,
	})
	vertexCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a vertex and all of its edges",
		Args:  cobra.ExactArgs(1),
		RunE:  runVertexRemove,
	})
	rootCmd.AddCommand(vertexCmd)

	// Edge commands
	edgeCmd := &cobra.Command{
		Use:   "edge",
		Short: "Edge operations",
	}
	edgeAddCmd := &cobra.Command{
		Use:   "add <out-id> <label> <in-id> [key=value...]",
		Short: "Add an edge",
		Args:  cobra.MinimumNArgs(3),
		RunE:  runEdgeAdd,
	}
	edgeAddCmd.Flags().String("id", "", "Edge id (default: random UUID)")
	edgeCmd.AddCommand(edgeAddCmd)
	edgeCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an edge",
		Args:  cobra.ExactArgs(1),
		RunE:  runEdgeRemove,
	})
	rootCmd.AddCommand(edgeCmd)

	// Edges command (adjacency listing)
	edgesCmd := &cobra.Command{
		Use:   "edges <vertex-id>",
		Short: "List the edges of a vertex",
		Args:  cobra.ExactArgs(1),
		RunE:  runEdges,
	}
	edgesCmd.Flags().String("direction", "both", "Direction: out, in, both")
	edgesCmd.Flags().StringSlice("label", nil, "Edge labels (repeatable; default: any)")
	edgesCmd.Flags().String("key", "", "Property key to match (requires exactly one --label)")
	edgesCmd.Flags().String("value", "", "Property value to match")
	rootCmd.AddCommand(edgesCmd)

	// Index commands
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Property index operations",
	}
	indexCreateCmd := &cobra.Command{
		Use:   "create <vertex|edge> <label> <key>",
		Short: "Declare and backfill a property index",
		Args:  cobra.ExactArgs(3),
		RunE:  runIndexCreate,
	}
	indexCreateCmd.Flags().Bool("unique", false, "Reject duplicate values")
	indexCmd.AddCommand(indexCreateCmd)
	indexCmd.AddCommand(&cobra.Command{
		Use:   "drop <vertex|edge> <label> <key>",
		Short: "Drop a property index",
		Args:  cobra.ExactArgs(3),
		RunE:  runIndexDrop,
	})
	indexCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List declared property indexes",
		Args:  cobra.NoArgs,
		RunE:  runIndexList,
	})
	rootCmd.AddCommand(indexCmd)

	// Lookup command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "lookup <label> <key> <value>",
		Short: "Find vertices through a property index",
		Args:  cobra.ExactArgs(3),
		RunE:  runLookup,
	})

	// Maintenance commands
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show row counts",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "backup <file>",
		Short: "Write a full backup",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackup,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "restore <file>",
		Short: "Load a backup written by the backup command",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "gc",
		Short: "Run value log garbage collection",
		Args:  cobra.NoArgs,
		RunE:  runGC,
	})

	return rootCmd
}

// getEnvStr returns environment variable value or default
func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parseValue turns a command line value into a property value. Integers,
// floats and booleans are recognized; quoted or anything else is a string.
func parseValue(s string) any {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// parseProperties turns key=value arguments into an alternating key/value
// list.
func parseProperties(args []string) ([]any, error) {
	kv := make([]any, 0, 2*len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", arg)
		}
		kv = append(kv, key, parseValue(value))
	}
	return kv, nil
}
