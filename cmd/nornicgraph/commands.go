package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicgraph/pkg/config"
	"github.com/orneryd/nornicgraph/pkg/graph"
	"github.com/orneryd/nornicgraph/pkg/storage"
)

// session is one opened data directory.
type session struct {
	cfg    *config.Config
	engine *storage.BadgerEngine
	graph  *graph.Graph
}

func openSession(cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := storage.WithMinLevel(storage.NewLogger("nornicgraph"), cfg.Logging.Level)
	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:         cfg.Storage.DataDir,
		InMemory:        cfg.Storage.InMemory,
		SyncWrites:      cfg.Storage.SyncWrites,
		Logger:          logger,
		LowMemory:       cfg.Storage.LowMemory,
		HighPerformance: cfg.Storage.HighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	opts := graph.OptionsFromConfig(cfg)
	opts.Logger = logger
	g, err := graph.New(engine, opts)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return &session{cfg: cfg, engine: engine, graph: g}, nil
}

// Close waits for background cleanup, then closes the graph and the engine.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flushErr := s.graph.Flush(ctx)
	s.graph.Close()
	return errors.Join(flushErr, s.engine.Close())
}

// withSession opens the data directory, runs fn and closes it again.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session, out io.Writer) error) (err error) {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(cmd.Context(), s, cmd.OutOrStdout())
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = "./data"
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "📂 Initializing NornicGraph data directory in %s\n", dataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "nornicgraph.yaml")
	configContent := fmt.Sprintf(`# NornicGraph Configuration
storage:
  data_dir: %s
  sync_writes: false

graph:
  element_cache_enabled: true
  element_cache_max_size: 10000
  element_cache_ttl: 10m
  relationship_cache_max_size: 64
  relationship_cache_ttl: 30s
  stale_index_expiry: 1m
  lazy_loading: false

reconciler:
  workers: 2
  queue_size: 1024
  delete_rate_limit: 0   # deletions per second, 0 = unlimited

logging:
  level: INFO
`, dataDir)
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintln(out, "✅ Data directory initialized successfully")
	fmt.Fprintf(out, "   Config: %s\n", configPath)
	return nil
}

func runVertexAdd(cmd *cobra.Command, args []string) error {
	kv, err := parseProperties(args[1:])
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("id"); id != "" {
		kv = append(kv, graph.IDKey, id)
	}
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		v, err := s.graph.AddVertex(ctx, args[0], kv...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Created vertex %s\n", v.ID())
		return nil
	})
}

func runVertexGet(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		v, err := s.graph.Vertex(ctx, storage.ID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s :%s\n", v, v.Label())
		return printProperties(ctx, out, v)
	})
}

func runVertexSet(cmd *cobra.Command, args []string) error {
	kv, err := parseProperties(args[1:])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		v, err := s.graph.Vertex(ctx, storage.ID(args[0]))
		if err != nil {
			return err
		}
		for i := 0; i < len(kv); i += 2 {
			if err := v.SetProperty(ctx, kv[i].(string), kv[i+1]); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "✅ Updated vertex %s\n", v.ID())
		return nil
	})
}

func runVertexRemove(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		v, err := s.graph.Vertex(ctx, storage.ID(args[0]))
		if err != nil {
			return err
		}
		if err := v.Remove(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "🗑️  Removed vertex %s\n", v.ID())
		return nil
	})
}

func runEdgeAdd(cmd *cobra.Command, args []string) error {
	kv, err := parseProperties(args[3:])
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("id"); id != "" {
		kv = append(kv, graph.IDKey, id)
	}
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		from, err := s.graph.Vertex(ctx, storage.ID(args[0]))
		if err != nil {
			return err
		}
		to, err := s.graph.Vertex(ctx, storage.ID(args[2]))
		if err != nil {
			return err
		}
		e, err := from.AddEdge(ctx, args[1], to, kv...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Created edge %s\n", e)
		return nil
	})
}

func runEdgeRemove(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		e, err := s.graph.Edge(ctx, storage.ID(args[0]))
		if err != nil {
			return err
		}
		if err := e.Remove(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "🗑️  Removed edge %s\n", e.ID())
		return nil
	})
}

func runEdges(cmd *cobra.Command, args []string) error {
	dirFlag, _ := cmd.Flags().GetString("direction")
	labels, _ := cmd.Flags().GetStringSlice("label")
	key, _ := cmd.Flags().GetString("key")
	value, _ := cmd.Flags().GetString("value")

	dir, err := storage.ParseDirection(dirFlag)
	if err != nil {
		return err
	}
	if key != "" && len(labels) != 1 {
		return fmt.Errorf("--key requires exactly one --label")
	}

	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		v, err := s.graph.Vertex(ctx, storage.ID(args[0]))
		if err != nil {
			return err
		}
		var it *graph.EdgeIterator
		if key != "" {
			it = v.EdgesByProperty(ctx, dir, labels[0], key, parseValue(value))
		} else {
			it = v.Edges(ctx, dir, labels...)
		}
		defer it.Close()

		n := 0
		for it.Next() {
			fmt.Fprintln(out, it.Value())
			n++
		}
		if err := it.Err(); err != nil {
			return err
		}
		fmt.Fprintf(out, "(%d edges)\n", n)
		return nil
	})
}

func parseKind(s string) (storage.Kind, error) {
	switch s {
	case "vertex", "v":
		return storage.KindVertex, nil
	case "edge", "e":
		return storage.KindEdge, nil
	}
	return 0, fmt.Errorf("unknown element kind %q: expected vertex or edge", s)
}

func runIndexCreate(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	unique, _ := cmd.Flags().GetBool("unique")
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		start := time.Now()
		if err := s.graph.CreateIndex(ctx, kind, args[1], args[2], unique); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Created index %s:%s.%s in %v\n", kind, args[1], args[2], time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func runIndexDrop(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		if err := s.graph.DropIndex(ctx, kind, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(out, "🗑️  Dropped index %s:%s.%s\n", kind, args[1], args[2])
		return nil
	})
}

func runIndexList(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		indexes, err := s.graph.Indexes(ctx)
		if err != nil {
			return err
		}
		for _, idx := range indexes {
			unique := ""
			if idx.Unique {
				unique = " (unique)"
			}
			fmt.Fprintf(out, "%s%s\n", idx.Key, unique)
		}
		fmt.Fprintf(out, "(%d indexes)\n", len(indexes))
		return nil
	})
}

func runLookup(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		vertices, err := s.graph.VerticesByProperty(ctx, args[0], args[1], parseValue(args[2])).Collect()
		if err != nil {
			return err
		}
		for _, v := range vertices {
			fmt.Fprintln(out, v)
		}
		fmt.Fprintf(out, "(%d vertices)\n", len(vertices))
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		counts, err := s.engine.RowCounts()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "📊 Row counts:")
		fmt.Fprintf(out, "  Vertices:          %d\n", counts.Vertices)
		fmt.Fprintf(out, "  Edges:             %d\n", counts.Edges)
		fmt.Fprintf(out, "  Endpoint rows:     %d\n", counts.EndpointRows)
		fmt.Fprintf(out, "  Vertex index rows: %d\n", counts.VertexIndexRows)
		fmt.Fprintf(out, "  Edge index rows:   %d\n", counts.EdgeIndexRows)
		fmt.Fprintf(out, "  Indexes:           %d\n", counts.Indexes)
		return nil
	})
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		start := time.Now()
		if err := s.engine.BackupToFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Backup written to %s in %v\n", args[0], time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		if err := s.engine.Restore(f); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Restored %s\n", args[0])
		return nil
	})
}

func runGC(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session, out io.Writer) error {
		if err := s.engine.RunGC(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✅ Value log garbage collection finished")
		return nil
	})
}

func printProperties(ctx context.Context, out io.Writer, v *graph.Vertex) error {
	props, err := v.Properties(ctx)
	if err != nil {
		return err
	}
	keys, err := v.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %v\n", k, props[k])
	}
	return nil
}
