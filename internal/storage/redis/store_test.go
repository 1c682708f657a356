package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"keypool/internal/model"
	"keypool/internal/storage"
	"keypool/internal/storage/redis"
	"keypool/internal/storage/storetest"
)

func newMiniredisStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := redis.NewWithClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, _ := newMiniredisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	if _, err := s.MarkFailure(ctx, "PRIMARY", model.ErrorLog{ErrorType: "http_429"}, model.DefaultEjectionPolicy(), storetest.Now()); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:health:PRIMARY") {
		t.Error("健康记录应写入 test:health:PRIMARY")
	}
	if ok, _ := mr.SIsMember("test:health:index", "PRIMARY"); !ok {
		t.Error("标识符应加入索引集合")
	}

	if _, err := s.CompareAndSwapPointer(ctx, storage.DefaultPointerName, 0, 3); err != nil {
		t.Fatal(err)
	}
	if v, _ := mr.Get("test:pointer:default"); v != "3" {
		t.Errorf("指针键值 = %q, want 3", v)
	}
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	s, mr := newMiniredisStore(t)
	if err := mr.Set("test:health:PRIMARY", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetHealth(context.Background(), "PRIMARY"); err == nil {
		t.Fatal("损坏的记录应返回错误")
	}
}

func TestRedisStore_PingAfterClose(t *testing.T) {
	s, mr := newMiniredisStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Ping(ctx); err == nil {
		t.Fatal("Redis不可用时Ping应失败")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := redis.New(context.Background(), "not-a-url://"); err == nil {
		t.Fatal("非法URL应报错")
	}
}

func TestNew_Miniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := redis.New(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
