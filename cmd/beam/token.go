package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/beam-me/core/internal/auth/token"
	"github.com/beam-me/core/internal/config"
	"github.com/beam-me/core/internal/utils/id"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint tokens signed with the configured secret",
	}

	var (
		taskID      string
		coreIDs     []string
		allowDirect bool
		ttl         time.Duration
	)
	task := &cobra.Command{
		Use:   "task",
		Short: "Mint a task token for opening negotiation channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg.UsesDevSecret() {
				fmt.Fprintln(cmd.ErrOrStderr(), yellow("warning: signing with the development secret"))
			}
			authority, err := token.NewAuthority(cfg.Auth.Secret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = id.NewTaskID()
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TaskTokenTTL
			}
			raw, err := authority.MintTaskToken(taskID, coreIDs, allowDirect, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	task.Flags().StringVar(&taskID, "task-id", "", "task identifier (generated when empty)")
	task.Flags().StringSliceVar(&coreIDs, "cores", nil, "cores the token may act for")
	task.Flags().BoolVar(&allowDirect, "allow-direct", false, "permit direct core-to-core channels")
	task.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.task_token_ttl)")

	cmd.AddCommand(task)
	return cmd
}
