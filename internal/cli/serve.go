package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"keypool/internal/app"
	"keypool/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP服务（健康检查、指标、管理接口）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			if port != "" {
				env.Port = ":" + port
			}

			if env.GinMode == "" {
				gin.SetMode(gin.ReleaseMode)
			} else {
				gin.SetMode(env.GinMode)
			}
			version.PrintBanner(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := opts.bootstrap(ctx, env)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv, err := app.NewServer(rt)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, env.Port)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "监听端口（覆盖 PORT）")
	return cmd
}
