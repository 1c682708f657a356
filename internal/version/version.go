// Package version 提供应用版本信息
// 版本号通过 go build -ldflags 注入
package version

import (
	"fmt"
	"runtime"
)

// 构建信息变量，通过 ldflags 注入
// 构建命令示例:
//
//	go build -ldflags "-X keypool/internal/version.Version=$(git describe --tags --always) \
//	  -X keypool/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X 'keypool/internal/version.BuildTime=$(date +%Y-%m-%d\ %H:%M:%S\ %z)' \
//	  -X keypool/internal/version.BuiltBy=$(whoami)"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	BuiltBy   = "unknown"
)

// Info 构建信息（version 命令 --json 输出）
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	BuiltBy   string `json:"built_by"`
	GoVersion string `json:"go_version"`
}

// Get 当前构建信息
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		BuiltBy:   BuiltBy,
		GoVersion: runtime.Version(),
	}
}

// String 单行版本描述
func (i Info) String() string {
	return fmt.Sprintf("keypool %s (commit %s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion)
}
