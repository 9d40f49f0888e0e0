//go:build linux

package main

import (
	"fmt"

	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"xdp-dns-redirect/internal/bpfmap"
)

var publishCreate bool

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Write the mirror target to the kernel maps and detach unconfigured queues",
	Long: `Publish the configured targets to the kernel variant's shared maps.

The mirror_ifindex entry is set from "mirror" (0 when unset). Queues that are not
listed under "redirect" are removed from xsk_map. Queue entries themselves are
owned by the processes holding the AF_XDP sockets.

Maps are opened from bpf.pin_path when set, otherwise looked up by name among
the maps loaded in the kernel.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishCreate, "create", false, "create and pin the maps under bpf.pin_path")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("remove memlock: %w", err)
	}

	var maps *bpfmap.Maps
	switch {
	case publishCreate:
		if cfg.BPF.PinPath == "" {
			return fmt.Errorf("--create requires bpf.pin_path")
		}
		maps, err = bpfmap.Create(cfg.BPF.RedirectMap, cfg.BPF.MirrorMap)
		if err == nil {
			if err = maps.Pin(cfg.BPF.PinPath); err != nil {
				maps.Close()
			}
		}
	case cfg.BPF.PinPath != "":
		maps, err = bpfmap.OpenPinned(cfg.BPF.PinPath, cfg.BPF.RedirectMap, cfg.BPF.MirrorMap)
	default:
		maps, err = bpfmap.OpenLoaded(cfg.BPF.RedirectMap, cfg.BPF.MirrorMap)
	}
	if err != nil {
		return err
	}
	defer maps.Close()

	table, err := cfg.RedirectTable()
	if err != nil {
		return err
	}
	mirrorTarget, err := cfg.MirrorTarget(ifindexByName)
	if err != nil {
		return err
	}

	if err := maps.Prune(&table); err != nil {
		return err
	}
	if err := maps.SyncMirror(mirrorTarget); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"redirect_map": cfg.BPF.RedirectMap,
		"mirror_map":   cfg.BPF.MirrorMap,
		"queues":       table.Len(),
		"mirror":       mirrorTarget,
	}).Info("kernel maps updated")
	return nil
}
