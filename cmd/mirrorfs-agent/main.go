// Command mirrorfs-agent serves file and directory operations to
// remote hook layers, resolving their container-rooted paths under a
// configured host mount.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirrorfs/go-mirrorfs/agent"
	"github.com/mirrorfs/go-mirrorfs/config"
	"github.com/mirrorfs/go-mirrorfs/pkg/log"
	"github.com/mirrorfs/go-mirrorfs/pkg/unixsocket"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		socket     string
		hostPath   string
		root       string
		readOnly   bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "mirrorfs-agent",
		Short:        "serve mirrored file operations over a session socket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// flags beat the file
			if cmd.Flags().Changed("socket") {
				cfg.Socket = socket
			}
			if cmd.Flags().Changed("host-path") {
				cfg.Mapping.HostPath = hostPath
			}
			if cmd.Flags().Changed("container-root") {
				cfg.Mapping.ContainerRoot = root
			}
			if cmd.Flags().Changed("read-only") {
				cfg.ReadOnly = readOnly
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration")
	cmd.Flags().StringVar(&socket, "socket", "", "unix socket path to listen on")
	cmd.Flags().StringVar(&hostPath, "host-path", "", "host path backing the container root")
	cmd.Flags().StringVar(&root, "container-root", "/", "root of the client's path namespace")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "refuse write-mode opens")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func run(cfg *config.Config) error {
	logger, err := log.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	l, err := unixsocket.Listen(cfg.Socket)
	if err != nil {
		return err
	}
	defer l.Close()

	mapping := agent.PathMapping{
		ContainerRoot: cfg.Mapping.ContainerRoot,
		HostPath:      cfg.Mapping.HostPath,
	}
	logger.Info("agent listening",
		zap.String("socket", cfg.Socket),
		zap.String("host_path", mapping.HostPath),
		zap.String("container_root", mapping.ContainerRoot),
		zap.Bool("read_only", cfg.ReadOnly))

	a := agent.New(mapping, cfg.ReadOnly, logger)
	return a.Serve(l)
}
