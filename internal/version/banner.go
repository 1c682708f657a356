package version

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const banner = `
 ██╗  ██╗ ███████╗ ██╗   ██╗ ██████╗   ██████╗   ██████╗  ██╗
 ██║ ██╔╝ ██╔════╝ ╚██╗ ██╔╝ ██╔══██╗ ██╔═══██╗ ██╔═══██╗ ██║
 █████╔╝  █████╗    ╚████╔╝  ██████╔╝ ██║   ██║ ██║   ██║ ██║
 ██╔═██╗  ██╔══╝     ╚██╔╝   ██╔═══╝  ██║   ██║ ██║   ██║ ██║
 ██║  ██╗ ███████╗    ██║    ██║      ╚██████╔╝ ╚██████╔╝ ███████╗
 ╚═╝  ╚═╝ ╚══════╝    ╚═╝    ╚═╝       ╚═════╝   ╚═════╝  ╚══════╝
`

// ANSI 颜色码
const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// IsTerminal 判断输出是否为终端（非终端不输出颜色）
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// PrintBanner 打印启动 Banner 和版本信息
func PrintBanner(w io.Writer) {
	info := Get()
	rows := [][2]string{
		{"Version:", info.Version},
		{"Commit:", info.Commit},
		{"Build Time:", info.BuildTime},
		{"Built By:", info.BuiltBy},
	}

	if IsTerminal(w) {
		fmt.Fprintf(w, "%s%s%s", colorCyan, banner, colorReset)
		fmt.Fprintf(w, "  %sCredential Pool Load Balancer%s\n\n", colorYellow, colorReset)
		for _, r := range rows {
			fmt.Fprintf(w, "%-14s %s%s%s\n", r[0], colorGreen, r[1], colorReset)
		}
	} else {
		fmt.Fprint(w, banner)
		fmt.Fprintf(w, "  Credential Pool Load Balancer\n\n")
		for _, r := range rows {
			fmt.Fprintf(w, "%-14s %s\n", r[0], r[1])
		}
	}
	fmt.Fprintln(w)
}
