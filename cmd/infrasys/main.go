// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"infrasys/component"
	"infrasys/system"
	"infrasys/timeseries"
)

func parseUUIDFlag(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing --owner: %w", err)
	}
	return id, nil
}

type getTimeSeriesFlags struct {
	owner  string
	name   string
	kind   string
	start  string
	length int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "infrasys",
		Short: "Inspect a saved infrasys system",
	}

	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getTimeSeriesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Print component and time-series counts for a saved system",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInfo(args[0])
		},
	}
}

func runInfo(path string) error {
	ctx := context.Background()
	s, err := system.Open(ctx, path, system.OpenOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = s.Close() }()

	summary, err := s.Info(ctx)
	if err != nil {
		return fmt.Errorf("gathering summary: %w", err)
	}

	fmt.Printf("System %q (%s)\n", s.Name(), s.UUID())
	fmt.Println("===================")
	fmt.Printf("Components:   %d\n", summary.TotalComponents)
	fmt.Printf("Time series:  %d\n", summary.TotalDistinctTimeSeries)

	if len(summary.ComponentCountsByType) > 0 {
		fmt.Println("\nBy type:")
		for _, name := range sortedKeys(summary.ComponentCountsByType) {
			fmt.Printf("  %-30s %d\n", name, summary.ComponentCountsByType[name])
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <path>",
		Short: "List every component stored in a saved system",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runList(args[0])
		},
	}
}

func runList(path string) error {
	ctx := context.Background()
	s, err := system.Open(ctx, path, system.OpenOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = s.Close() }()

	for _, c := range s.IterAllComponents() {
		fmt.Printf("%-36s %-24s %s\n", c.UUID(), fmt.Sprintf("%T", c), c.Name())
	}
	return nil
}

func getTimeSeriesCmd() *cobra.Command {
	flags := &getTimeSeriesFlags{}
	cmd := &cobra.Command{
		Use:   "get-time-series <path>",
		Short: "Print a stored time-series window for one component",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runGetTimeSeries(args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.owner, "owner", "", "Owner component UUID (required)")
	cmd.Flags().StringVar(&flags.name, "name", "", "Time series variable name (required)")
	cmd.Flags().StringVar(&flags.kind, "kind", string(timeseries.KindSingle), "Time series kind: single or non_sequential")
	cmd.Flags().StringVar(&flags.start, "start", "", "Window start time, RFC3339 (default: from the beginning)")
	cmd.Flags().IntVar(&flags.length, "length", 0, "Window length (default: to the end)")
	return cmd
}

func runGetTimeSeries(path string, flags *getTimeSeriesFlags) error {
	if flags.owner == "" || flags.name == "" {
		return fmt.Errorf("--owner and --name are required")
	}

	ctx := context.Background()
	s, err := system.Open(ctx, path, system.OpenOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = s.Close() }()

	ownerUUID, err := parseUUIDFlag(flags.owner)
	if err != nil {
		return err
	}
	c, err := s.GetComponentByUUID(ownerUUID)
	if err != nil {
		return fmt.Errorf("resolving owner: %w", err)
	}
	owner, ok := c.(component.WithQuantities)
	if !ok {
		return fmt.Errorf("%s does not carry time series", c.Name())
	}

	var start *time.Time
	if flags.start != "" {
		t, err := time.Parse(time.RFC3339, flags.start)
		if err != nil {
			return fmt.Errorf("parsing --start: %w", err)
		}
		start = &t
	}

	data, err := s.GetTimeSeries(ctx, owner, flags.name, timeseries.Kind(flags.kind), start, flags.length, nil)
	if err != nil {
		return fmt.Errorf("fetching time series: %w", err)
	}

	fmt.Printf("%s (%s), %d sample(s)\n", data.Name(), data.Kind(), data.Len())
	for i, v := range data.Values() {
		fmt.Printf("  [%d] %g\n", i, v)
	}
	return nil
}
