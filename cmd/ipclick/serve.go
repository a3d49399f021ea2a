package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ipclick/internal/app"
	"ipclick/internal/shared/config"
	"ipclick/internal/shared/logger"
)

func serveSubcommand(configPath *string) *cobra.Command {
	var (
		host    string
		port    int
		workers int
		adapter string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task service",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. 加载配置
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.ServerConf.Host = host
			}
			if flags.Changed("port") {
				cfg.ServerConf.Port = port
			}
			if flags.Changed("workers") {
				cfg.ServerConf.MaxWorkers = workers
			}
			if flags.Changed("adapter") {
				cfg.DefaultAdapter = adapter
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			// 2. 初始化日志系统
			if err := logger.Init(cfg.LogConf); err != nil {
				return err
			}

			// 3. 创建并运行服务器
			s, err := app.New(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return s.Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&host, "host", "", "Listen address")
	flags.IntVar(&port, "port", 0, "Listen port")
	flags.IntVar(&workers, "workers", 0, "Maximum concurrent tasks")
	flags.StringVar(&adapter, "adapter", "", "Default adapter (fingerprint, plain, ...)")
	return cmd
}
