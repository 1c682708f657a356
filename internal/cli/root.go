// Package cli keypool 命令行：serve 启动服务，其余子命令直接操作共享存储中的健康状态
package cli

import (
	"context"
	"fmt"
	"os"

	"keypool/internal/app"
	"keypool/internal/config"

	"github.com/spf13/cobra"
)

// options 子命令共享的全局参数
type options struct {
	configPath string
	env        string

	// bootstrap 组装运行时（测试可替换）
	bootstrap func(ctx context.Context, env *config.EnvConfig) (*app.Runtime, error)
}

// NewRootCmd 创建 keypool 根命令并注册所有子命令
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{bootstrap: app.Bootstrap})
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "keypool",
		Short:         "keypool - credential pool load balancer",
		Long:          "keypool 在一组API Key之间轮询分发请求，连续失败的Key自动剔除并在冷却后恢复。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "yaml配置文件路径（覆盖 KEYPOOL_CONFIG）")
	root.PersistentFlags().StringVarP(&opts.env, "env", "e", "", "使用的Key池（覆盖 KEYPOOL_ENV）")

	serve := newServeCmd(opts)
	// 不带子命令时等同于 serve
	root.Args = cobra.NoArgs
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return serve.RunE(serve, args)
	}

	root.AddCommand(
		serve,
		newStatusCmd(opts),
		newEjectCmd(opts),
		newRestoreCmd(opts),
		newProbeCmd(opts),
		newResetDailyCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute 运行根命令，出错时打印到 stderr 并以非零码退出
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadEnv 读取环境变量配置，命令行参数优先
func (o *options) loadEnv() (*config.EnvConfig, error) {
	env, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if o.configPath != "" {
		env.ConfigPath = o.configPath
	}
	if o.env != "" {
		env.Env = o.env
	}
	return env, nil
}

// runtime 组装运行时，调用方负责 Close
func (o *options) runtime(ctx context.Context) (*app.Runtime, error) {
	env, err := o.loadEnv()
	if err != nil {
		return nil, err
	}
	return o.bootstrap(ctx, env)
}

// withRuntime 组装运行时执行 fn，结束后释放存储连接
func (o *options) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *app.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := o.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
