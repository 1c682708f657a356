package cli

import (
	"context"
	"fmt"
	"time"

	"keypool/internal/app"
	apperrors "keypool/internal/errors"

	"github.com/spf13/cobra"
)

// requireKey 校验标识符在注册表中
func requireKey(rt *app.Runtime, id string) error {
	if rt.Pool.Registry().Position(id) < 0 {
		return apperrors.UnknownKey(id)
	}
	return nil
}

func newEjectCmd(opts *options) *cobra.Command {
	var d time.Duration
	cmd := &cobra.Command{
		Use:   "eject <key>",
		Short: "手动剔除Key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return opts.withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				if err := requireKey(rt, id); err != nil {
					return err
				}
				rec, err := rt.Manager.Eject(ctx, id, d)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Key %s 已剔除，恢复时间 %s\n", id, rec.RetryAt.Format(time.RFC3339))
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&d, "for", 5*time.Minute, "剔除时长")
	return cmd
}

func newRestoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key>",
		Short: "手动恢复Key（清除剔除与观察期）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return opts.withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				if err := requireKey(rt, id); err != nil {
					return err
				}
				if _, err := rt.Manager.Restore(ctx, id); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Key %s 已恢复\n", id)
				return err
			})
		},
	}
}

func newProbeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <key>",
		Short: "向 KEYPOOL_PROBE_URL 发起一次探测并记录结果",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return opts.withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				v, err := rt.Pool.Probe(ctx, id, rt.ProbeTarget())
				if err != nil {
					return err
				}
				resp := app.NewVerdictResponse(id, v, rt.Manager.Now())
				out := cmd.OutOrStdout()
				if resp.ErrorType == "" {
					_, err = fmt.Fprintf(out, "Key %s 探测成功，状态 %s\n", id, resp.State)
					return err
				}
				_, err = fmt.Fprintf(out, "Key %s 探测失败: %s（%s级，剔除: %v）\n", id, resp.ErrorType, resp.Kind, resp.Ejected)
				return err
			})
		},
	}
}

func newResetDailyCmd(opts *options) *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "reset-daily",
		Short: "清零每日失败计数",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Manager.ResetDaily(ctx, rt.Pool.Registry().Identifiers(), restore)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "已重置 %d 个Key的每日失败计数（恢复全部: %v）\n", n, restore)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "同时恢复所有Key为健康")
	return cmd
}
