// Command meshtopo computes a mesh topology from a capture file or queries
// a running topology-server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/internal/config"
	"github.com/signalsfoundry/meshtopo/internal/engine"
	"github.com/signalsfoundry/meshtopo/internal/logging"
	"github.com/signalsfoundry/meshtopo/internal/rpc"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "meshtopo: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshtopo",
		Short:         "Infer LoRa mesh topology from overheard routing metadata",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newComputeCmd(), newQueryCmd())
	return root
}

type computeFlags struct {
	capture string
	config  string
	local   string
	pretty  bool
}

func newComputeCmd() *cobra.Command {
	var f computeFlags
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute the topology of a capture file and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompute(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.capture, "capture", "", "Capture JSON file to analyse")
	cmd.Flags().StringVar(&f.config, "config", "", "YAML config file")
	cmd.Flags().StringVar(&f.local, "local", "", "Local node hash (overrides config and capture)")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "Indent the JSON output")
	_ = cmd.MarkFlagRequired("capture")
	return cmd
}

func runCompute(ctx context.Context, f computeFlags, stdout io.Writer) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	capture, summary, err := core.LoadCaptureFile(f.capture)
	if err != nil {
		return err
	}

	coreCfg := cfg.Core()
	switch {
	case f.local != "":
		coreCfg.LocalHash = f.local
	case coreCfg.LocalHash == "":
		coreCfg.LocalHash = capture.LocalHash
	}
	if coreCfg.LocalPosition == nil {
		coreCfg.LocalPosition = capture.LocalPosition
	}

	log := logging.NewFromEnv()
	log.Debug(ctx, "capture loaded",
		logging.String("path", f.capture),
		logging.Int("packets", summary.Packets),
		logging.Int("neighbors", summary.Neighbors),
		logging.Int("skipped_packets", summary.SkippedPackets),
	)

	out := engine.New(engine.WithLogger(log)).ComputeNow(ctx, capture.Input, coreCfg)
	if out.Err != nil {
		return out.Err
	}
	return writeJSON(stdout, out.Result, f.pretty)
}

func newQueryCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a running topology-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("query: unknown subcommand %q", args[0])
			}
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:50051", "topology-server gRPC address")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-call timeout")

	// withClient dials the server and runs fn under the call timeout with a
	// fresh request ID.
	withClient := func(fn func(context.Context, *rpc.TopologyClient, io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			conn, err := rpc.Dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			ctx, _ = logging.EnsureRequestID(ctx)
			return fn(ctx, rpc.NewTopologyClient(conn), cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "topology",
			Short: "Print the current topology",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *rpc.TopologyClient, w io.Writer) error {
				res, err := c.GetTopology(ctx)
				if err != nil {
					return err
				}
				return writeJSON(w, res, true)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the service status",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *rpc.TopologyClient, w io.Writer) error {
				st, err := c.GetStatus(ctx)
				if err != nil {
					return err
				}
				return writeJSON(w, st, true)
			}),
		},
		&cobra.Command{
			Use:   "recompute",
			Short: "Ask the server to recompute",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *rpc.TopologyClient, w io.Writer) error {
				id, err := c.Recompute(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "submitted %s\n", id)
				return err
			}),
		},
		newSubmitCmd(withClient),
	)
	return cmd
}

func newSubmitCmd(withClient func(func(context.Context, *rpc.TopologyClient, io.Writer) error) func(*cobra.Command, []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Send a capture file to the server",
		Args:  cobra.ExactArgs(1),
	}
	merge := cmd.Flags().Bool("merge", false, "add the capture to the server snapshot instead of replacing it")
	cmd.RunE = func(c *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, client *rpc.TopologyClient, w io.Writer) error {
			send := client.SubmitCapture
			if *merge {
				send = client.MergeCapture
			}
			summary, err := send(ctx, data)
			if err != nil {
				return err
			}
			return writeJSON(w, summary, true)
		})(c, args)
	}
	return cmd
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
