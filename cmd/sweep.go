/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/mautops/procure-gin/internal/config"
	"github.com/mautops/procure-gin/internal/container"
	"github.com/spf13/cobra"
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass and exit",
	Long: `Run one reconciliation pass and exit.
This releases budget reservations that have been held past the configured
maximum age and retries petty cash form generation for approved cash
requisitions that are still missing one. Useful for cron-driven setups
where the in-process scheduler is disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 加载配置
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// 2. 初始化容器
		ctr, err := container.NewContainer(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		// 3. 执行一次对账
		log.Println("Running reconciliation sweep...")
		ctr.SweepScheduler().RunOnce(context.Background())

		log.Println("Reconciliation sweep completed successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().String("config", "", "Config file path (default: config.yaml)")
}
