package testutil_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"keypool/internal/model"
	"keypool/internal/testutil"

	"github.com/gin-gonic/gin"
)

func TestSetupTestStore_CreatesValidStore(t *testing.T) {
	store, cleanup := testutil.SetupTestStore(t)
	defer cleanup()

	if store == nil {
		t.Fatal("store should not be nil")
	}

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	recs, err := store.ListHealth(ctx)
	if err != nil {
		t.Fatalf("ListHealth failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("新库不应有健康记录，实际 %d 条", len(recs))
	}

	if _, err := store.MarkFailure(ctx, "A", model.ErrorLog{ErrorType: "http_500"}, model.DefaultEjectionPolicy(), time.Now()); err != nil {
		t.Fatalf("MarkFailure failed: %v", err)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := testutil.NewRegistry(t, "A", "B")
	if reg.Len() != 2 || reg.At(1).Identifier != "B" {
		t.Fatalf("注册表顺序错误: %v", reg.Identifiers())
	}
	if !strings.HasPrefix(reg.At(0).Secret, "sk-test-A") {
		t.Errorf("测试密钥格式错误: %q", reg.At(0).Secret)
	}
}

func TestServeHTTP_ParseAPIResponse(t *testing.T) {
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"n": 3}})
	})

	w := testutil.ServeHTTP(t, r, testutil.WithBearer(testutil.NewRequest(http.MethodGet, "/ok", nil), "pw"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := testutil.MustParseAPIResponse[map[string]int](t, w.Body.Bytes())
	if !resp.Success || resp.Data["n"] != 3 {
		t.Fatalf("响应解析错误: %+v", resp)
	}
}

func TestCheckGoroutineLeak_NoLeak(t *testing.T) {
	check := testutil.CheckGoroutineLeak(t)

	done := make(chan struct{})
	go func() {
		close(done)
	}()
	<-done

	check()
}
