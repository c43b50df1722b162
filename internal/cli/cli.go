// ============================================================================
// Beam Orchestrator CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands for creating, inspecting and serving beams
//
// Command Structure:
//   beamctl                          # Root command
//   ├── token                        # Derive grouping token and endpoint ids
//   │   ├── --timestamp             # Event time inside the segment
//   │   └── --partition             # Partition number
//   ├── create                       # Submit tasks and persist the new beam
//   │   ├── --interval | --timestamp
//   │   ├── --partition
//   │   └── --overlord              # Override overlord address
//   ├── inspect                      # Decode and print every stored beam
//   ├── status <task-id>...          # Ask the overlord for task states
//   ├── complete <task-id>...        # Report tasks as finished
//   ├── fail <task-id> --reason      # Report a task as failed
//   ├── serve                        # Run an in-memory overlord over gRPC
//   │   └── --port
//   ├── --config, -c                 # Config file (default: configs/default.yaml)
//   └── --version
//
// Configuration:
//   YAML file, then BEAM_* environment overrides (see config.go).
//
// Metrics:
//   serve exposes /metrics; create and inspect push their counters to
//   metrics.push_gateway when metrics are enabled.
//
// serve Command:
//   1. Load config
//   2. Start metrics HTTP server (if enabled)
//   3. Serve the task service and the health service
//   4. Reap tasks whose firehose shut off every overlord.reap_interval
//   5. SIGINT / SIGTERM: mark not serving, stop gracefully
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ChuLiYu/beam-orchestrator/internal/beam"
	"github.com/ChuLiYu/beam-orchestrator/internal/metrics"
	"github.com/ChuLiYu/beam-orchestrator/internal/naming"
	"github.com/ChuLiYu/beam-orchestrator/internal/overlord"
	"github.com/ChuLiYu/beam-orchestrator/internal/server"
	"github.com/ChuLiYu/beam-orchestrator/internal/storage"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
	"github.com/spf13/cobra"
)

var log = slog.Default()

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beamctl",
		Short: "beamctl: create and inspect realtime ingestion beams",
		Long: `beamctl manages beams, the replicated realtime ingestion tasks that
serve one (interval, partition) of a data source:
- deterministic grouping tokens and endpoint ids
- task submission to an overlord over gRPC
- persisted beam records (snapshot file or SQLite)`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildTokenCommand())
	rootCmd.AddCommand(buildCreateCommand())
	rootCmd.AddCommand(buildInspectCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildCompleteCommand())
	rootCmd.AddCommand(buildFailCommand())
	rootCmd.AddCommand(buildServeCommand())

	return rootCmd
}

// ============================================================================
// token
// ============================================================================

func buildTokenCommand() *cobra.Command {
	var timestamp string
	var partition int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the grouping token and endpoint ids for a partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			tc, err := cfg.TaskConfig()
			if err != nil {
				return err
			}
			return printTokens(cmd.OutOrStdout(), tc, timestamp, partition)
		},
	}

	cmd.Flags().StringVar(&timestamp, "timestamp", "", "ISO-8601 timestamp inside the segment")
	cmd.Flags().IntVar(&partition, "partition", 0, "partition number")
	cmd.MarkFlagRequired("timestamp")

	return cmd
}

func printTokens(w io.Writer, tc taskspec.Config, timestamp string, partition int) error {
	ts, err := types.ParseTime(timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	token, err := naming.GroupingToken(tc.Location.DataSource, tc.SegmentGranularity, ts, partition)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "token: %s\n", token)
	for r := 0; r < tc.Tuning.Replicants; r++ {
		fmt.Fprintf(w, "endpoint[%d]: %s\n", r, naming.EndpointID(token, r))
	}
	return nil
}

// ============================================================================
// create
// ============================================================================

func buildCreateCommand() *cobra.Command {
	var interval, timestamp, address string
	var partition int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a beam: submit its tasks and persist the record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			tc, err := cfg.TaskConfig()
			if err != nil {
				return err
			}
			iv, err := resolveInterval(tc, interval, timestamp)
			if err != nil {
				return err
			}
			if address == "" {
				address = cfg.Overlord.Address
			}

			conn, err := overlord.Dial(address)
			if err != nil {
				return err
			}
			defer conn.Close()

			store, err := cfg.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			collector := cfg.NewCollector()
			defer pushMetrics(cmd.Context(), cfg, collector)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Overlord.SubmitTimeout)
			defer cancel()
			return createBeam(ctx, cmd.OutOrStdout(), tc, overlord.NewClient(conn), store, collector, iv, partition)
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "beam interval (start/end)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "timestamp; the beam covers its segment bucket")
	cmd.Flags().IntVar(&partition, "partition", 0, "partition number")
	cmd.Flags().StringVar(&address, "overlord", "", "overlord address (default from config)")
	cmd.MarkFlagsMutuallyExclusive("interval", "timestamp")
	cmd.MarkFlagsOneRequired("interval", "timestamp")

	return cmd
}

func resolveInterval(tc taskspec.Config, interval, timestamp string) (types.Interval, error) {
	switch {
	case interval != "":
		return types.ParseInterval(interval)
	case timestamp != "":
		ts, err := types.ParseTime(timestamp)
		if err != nil {
			return types.Interval{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		return tc.SegmentGranularity.Bucket(ts), nil
	}
	return types.Interval{}, errors.New("one of --interval or --timestamp is required")
}

func createBeam(ctx context.Context, w io.Writer, tc taskspec.Config, sub beam.Submitter, store storage.BeamStore, collector *metrics.Collector, interval types.Interval, partition int) error {
	assembler, err := beam.NewAssembler(tc, sub, beam.WithMetrics(collector))
	if err != nil {
		return err
	}
	codec, err := beam.NewCodec(tc, beam.WithMetrics(collector))
	if err != nil {
		return err
	}

	b, err := assembler.CreateBeam(ctx, interval, partition)
	if err != nil {
		return err
	}

	data, err := codec.Marshal(b)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, b.Key(), data); err != nil {
		// 任務已提交，紀錄寫入失敗時仍印出，讓使用者可以手動補存
		fmt.Fprintln(w, string(data))
		return fmt.Errorf("beam created but not persisted: %w", err)
	}

	fmt.Fprintln(w, string(data))
	return nil
}

// ============================================================================
// inspect
// ============================================================================

func buildInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Decode and print every stored beam",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			tc, err := cfg.TaskConfig()
			if err != nil {
				return err
			}
			store, err := cfg.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			collector := cfg.NewCollector()
			defer pushMetrics(cmd.Context(), cfg, collector)

			return inspectBeams(cmd.Context(), cmd.OutOrStdout(), tc, store, collector)
		},
	}
}

func inspectBeams(ctx context.Context, w io.Writer, tc taskspec.Config, store storage.BeamStore, collector *metrics.Collector) error {
	codec, err := beam.NewCodec(tc, beam.WithMetrics(collector))
	if err != nil {
		return err
	}
	records, err := store.List(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	failed := 0
	for _, key := range keys {
		b, err := codec.Unmarshal(records[key])
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", key, err)
			continue
		}
		fmt.Fprintln(w, b.String())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d records could not be decoded", failed, len(keys))
	}
	return nil
}

// ============================================================================
// status / complete / fail
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "status <task-id>...",
		Short: "Show the overlord status of tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverlord(address, func(client *overlord.Client) error {
				return printStatuses(cmd.Context(), cmd.OutOrStdout(), client, args)
			})
		},
	}

	cmd.Flags().StringVar(&address, "overlord", "", "overlord address (default from config)")
	return cmd
}

func buildCompleteCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "complete <task-id>...",
		Short: "Report running tasks as finished successfully",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverlord(address, func(client *overlord.Client) error {
				return completeTasks(cmd.Context(), cmd.OutOrStdout(), client, args)
			})
		},
	}

	cmd.Flags().StringVar(&address, "overlord", "", "overlord address (default from config)")
	return cmd
}

func buildFailCommand() *cobra.Command {
	var address, reason string

	cmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Report a running task as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverlord(address, func(client *overlord.Client) error {
				st, err := client.Fail(cmd.Context(), args[0], reason)
				if err != nil {
					return err
				}
				printState(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&address, "overlord", "", "overlord address (default from config)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the task failed")
	cmd.MarkFlagRequired("reason")
	return cmd
}

// withOverlord loads the config, dials the overlord at address (or the
// configured one) and runs fn with a client.
func withOverlord(address string, fn func(*overlord.Client) error) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if address == "" {
		address = cfg.Overlord.Address
	}
	conn, err := overlord.Dial(address)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(overlord.NewClient(conn))
}

func printStatuses(ctx context.Context, w io.Writer, client *overlord.Client, ids []string) error {
	var errs []error
	for _, id := range ids {
		st, err := client.State(ctx, id)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(w, "%s\tERROR\t%v\n", id, err)
			continue
		}
		printState(w, st)
	}
	return errors.Join(errs...)
}

func completeTasks(ctx context.Context, w io.Writer, client *overlord.Client, ids []string) error {
	var errs []error
	for _, id := range ids {
		st, err := client.Complete(ctx, id)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(w, "%s\tERROR\t%v\n", id, err)
			continue
		}
		printState(w, st)
	}
	return errors.Join(errs...)
}

func printState(w io.Writer, st overlord.TaskState) {
	if st.Error != "" {
		fmt.Fprintf(w, "%s\t%s\t%s\n", st.ID, st.Status, st.Error)
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", st.ID, st.Status)
}

// pushMetrics sends the counters of a one-shot command to the Pushgateway.
// A failed push is logged; it never fails the command.
func pushMetrics(ctx context.Context, cfg *Config, collector *metrics.Collector) {
	if err := collector.Push(ctx, cfg.Metrics.PushGateway, "beamctl"); err != nil {
		log.Warn("Metrics push failed", "gateway", cfg.Metrics.PushGateway, "error", err)
	}
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory overlord (task service) over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port != 0 {
				cfg.Overlord.Port = port
			}

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Overlord.Port))
			if err != nil {
				return fmt.Errorf("failed to listen on port %d: %w", cfg.Overlord.Port, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, lis)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config)")
	return cmd
}

// serve runs the overlord on lis until ctx is done.
func serve(ctx context.Context, cfg *Config, lis net.Listener) error {
	collector := cfg.NewCollector()
	if collector != nil {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	srv := server.NewServer(overlord.NewRegistry(), collector)
	gs := server.NewGRPCServer()
	srv.Register(gs)

	go srv.RunReaper(ctx, cfg.Overlord.ReapInterval)
	go func() {
		<-ctx.Done()
		log.Info("Received shutdown signal, stopping gracefully")
		srv.Shutdown()
		gs.GracefulStop()
	}()

	log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
