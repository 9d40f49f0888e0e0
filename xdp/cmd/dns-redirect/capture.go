//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"xdp-dns-redirect/internal/capture"
	"xdp-dns-redirect/pkg/targets"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Classify and mirror live traffic from the configured interface",
	Long: `Capture ingress frames on the configured interface with AF_PACKET and run
them through the mirror and the classifier until interrupted.

Requires CAP_NET_RAW.`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func runCapture(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Interface == "" {
		return errors.New("capture requires interface in config")
	}

	ifindex, err := ifindexByName(cfg.Interface)
	if err != nil {
		return fmt.Errorf("get interface %s: %w", cfg.Interface, err)
	}
	log.Infof("using interface: %s (index: %d)", cfg.Interface, ifindex)

	mirrorTarget, err := cfg.MirrorTarget(ifindexByName)
	if err != nil {
		return err
	}
	if err := checkMirrorLoop(ifindex, mirrorTarget); err != nil {
		return err
	}

	src, err := capture.NewAFPacketSource(cfg.Interface, cfg.QueueID, cfg.Capture)
	if err != nil {
		return err
	}
	defer src.Close()

	h, err := newHost(cfg, log)
	if err != nil {
		return err
	}
	stopExporter := h.startExporter()
	defer stopExporter()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("dns-redirect is running. Press Ctrl+C to stop.")
	err = h.run(ctx, src)
	log.Info("shutting down...")
	h.close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// checkMirrorLoop 镜像接口不能是抓包接口, 否则副本会被再次捕获
func checkMirrorLoop(captureIfindex int, target targets.MirrorTarget) error {
	if idx, ok := target.Interface(); ok && int(idx) == captureIfindex {
		return fmt.Errorf("mirror target %s is the capture interface", target)
	}
	return nil
}
