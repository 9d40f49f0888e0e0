//go:build linux

package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"xdp-dns-redirect/internal/capture"
)

var (
	replayQueue uint32
	replayStats bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.pcap>",
	Short: "Classify and mirror the frames of a pcap file",
	Long: `Replay an Ethernet pcap through the mirror and the classifier.

Every frame is tagged with the given receive queue. Redirected frames are
delivered to the consumers configured under "redirect".

Examples:
  dns-redirect replay capture.pcap
  dns-redirect replay --queue 3 --stats capture.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Uint32VarP(&replayQueue, "queue", "q", 0, "receive queue index assigned to every frame")
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "print final counters as JSON on stdout")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	src, err := capture.OpenPcap(args[0], replayQueue)
	if err != nil {
		return err
	}
	defer src.Close()

	h, err := newHost(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("file", args[0]).Info("replaying pcap")
	runErr := h.run(ctx, src)
	h.close()
	if runErr != nil {
		return runErr
	}

	if replayStats {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(h.collector.GetStats())
	}
	return nil
}
