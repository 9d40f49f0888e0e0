//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"

	"xdp-dns-redirect/pkg/config"
	"xdp-dns-redirect/pkg/logging"
)

var buildVersion = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "dns-redirect",
	Short:         "Steer DNS traffic to a userspace consumer and mirror ingress frames",
	Version:       buildVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level from the config file")
	rootCmd.SetVersionTemplate("dns-redirect version {{.Version}}\n")

	rootCmd.AddCommand(replayCmd, captureCmd, publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dns-redirect: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置; 未显式指定且默认文件不存在时使用默认配置
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	var cfg *config.Config
	_, statErr := os.Stat(configPath)
	if !cmd.Flags().Changed("config") && errors.Is(statErr, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		c, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = c
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// ifindexByName 通过 netlink 解析接口序号
func ifindexByName(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, err
	}
	return link.Attrs().Index, nil
}
