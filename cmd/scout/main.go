package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scout",
		Short:         "Score founders, detect emerging themes and flag anomalies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(collectCmd())
	root.AddCommand(enrichCmd())
	root.AddCommand(cycleCmd())
	root.AddCommand(foundersCmd())
	root.AddCommand(themesCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run founder collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources to collect (github,hn,producthunt)")
	return cmd
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Enrich high-scoring founders from other platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(cmd.Context())
		},
	}
}

func cycleCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one scoring, clustering and anomaly cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the cycle report as JSON")
	return cmd
}

func foundersCmd() *cobra.Command {
	var (
		jsonOutput bool
		status     string
		minScore   int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "founders",
		Short: "List founders by composite score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFounders(cmd.Context(), jsonOutput, status, minScore, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (to_contact, watching, contacted, pass)")
	cmd.Flags().IntVar(&minScore, "min-score", 0, "minimum composite score")
	cmd.Flags().IntVar(&limit, "limit", 20, "max founders to show")
	return cmd
}

func themesCmd() *cobra.Command {
	var (
		jsonOutput bool
		stage      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "themes",
		Short: "List detected themes by emergence score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThemes(cmd.Context(), jsonOutput, stage, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage (nascent, emerging, established, saturated)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max themes to show")
	return cmd
}

func eventsCmd() *cobra.Command {
	var (
		jsonOutput bool
		status     string
		eventType  string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List emergence events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd.Context(), jsonOutput, status, eventType, since, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&status, "status", "", "filter by review status (new, noted, investigating)")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (e.g. commit_spike, new_theme)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events detected within this window (e.g. 72h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to show")
	return cmd
}

func previewCmd() *cobra.Command {
	var (
		weights map[string]string
		limit   int
	)

	cmd := &cobra.Command{
		Use:     "preview",
		Short:   "Re-rank stored founders under a different weight table",
		Example: "  scout preview --weights founder_quality=0.5,early_traction=0.5",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), weights, limit)
		},
	}

	cmd.Flags().StringToStringVar(&weights, "weights", nil, "dimension=weight pairs; missing dimensions weigh zero")
	cmd.Flags().IntVar(&limit, "limit", 20, "max founders to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the founders, themes and events API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port, overriding server.port")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduled cycles alongside the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port, overriding server.port")
	return cmd
}
