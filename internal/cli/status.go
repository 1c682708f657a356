package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"keypool/internal/app"
	"keypool/internal/util"
	"keypool/internal/version"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

// ANSI 颜色码（仅终端输出）
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "按轮询顺序显示所有Key的健康状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				views, err := rt.Pool.Snapshot(ctx)
				if err != nil {
					return err
				}
				now := rt.Manager.Now()
				rows := make([]app.KeyResponse, len(views))
				for i, v := range views {
					rows[i] = app.NewKeyResponse(v, now)
				}

				out := cmd.OutOrStdout()
				if asJSON {
					b, err := sonic.ConfigStd.MarshalIndent(rows, "", "  ")
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, string(b))
					return err
				}
				return printStatusTable(out, rows, version.IsTerminal(out))
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON输出")
	return cmd
}

func printStatusTable(out io.Writer, rows []app.KeyResponse, color bool) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tKEY\tSTATE\tCONSEC\tDAILY\tTOTAL\tRETRY IN\tLAST ERROR")
	for _, r := range rows {
		next := " "
		if r.Next {
			next = ">"
		}
		retry := "-"
		if r.CooldownMs > 0 {
			retry = (time.Duration(r.CooldownMs) * time.Millisecond).String()
		}
		lastErr := "-"
		if n := len(r.Health.RecentErrors); n > 0 {
			e := r.Health.RecentErrors[n-1]
			lastErr = fmt.Sprintf("%s: %s", e.ErrorType, truncate(util.SanitizeLogMessage(e.ErrorMessage), 60))
		}
		fmt.Fprintf(tw, "%s%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			next, r.Position, r.Identifier, colorState(r.State, color),
			r.Health.ConsecutiveFailures, r.Health.DailyFailureCount, r.Health.FailureCount,
			retry, lastErr)
	}
	return tw.Flush()
}

func colorState(state string, color bool) string {
	if !color {
		return state
	}
	switch state {
	case "healthy":
		return colorGreen + state + colorReset
	case "probation":
		return colorYellow + state + colorReset
	default:
		return colorRed + state + colorReset
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
