package version

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	defer func() { Version = old }()

	info := Get()
	if info.Version != "v1.2.3" || info.GoVersion != runtime.Version() {
		t.Fatalf("Get() = %+v", info)
	}
	if s := info.String(); !strings.Contains(s, "keypool v1.2.3") {
		t.Fatalf("String() = %q", s)
	}
}

func TestPrintBanner_NonTTY(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatal("非终端输出不应包含颜色码")
	}
	for _, want := range []string{"Version:", "Commit:", Version} {
		if !strings.Contains(out, want) {
			t.Errorf("banner 缺少 %q", want)
		}
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Fatal("bytes.Buffer 不是终端")
	}
}
