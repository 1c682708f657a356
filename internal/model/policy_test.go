package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNextCooldown(t *testing.T) {
	fixed := DefaultEjectionPolicy()
	exp := DefaultEjectionPolicy()
	exp.Growth = GrowthExponential
	exp.MaxCooldown = 5 * time.Minute

	tests := []struct {
		name   string
		policy EjectionPolicy
		prev   time.Duration
		want   time.Duration
	}{
		{"fixed首次", fixed, 0, time.Minute},
		{"fixed重复剔除不增长", fixed, 4 * time.Minute, time.Minute},
		{"exponential首次", exp, 0, time.Minute},
		{"exponential翻倍", exp, time.Minute, 2 * time.Minute},
		{"exponential上限", exp, 4 * time.Minute, 5 * time.Minute},
		{"exponential下限", exp, time.Second, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.NextCooldown(tt.prev); got != tt.want {
				t.Errorf("NextCooldown(%v) = %v, want %v", tt.prev, got, tt.want)
			}
		})
	}
}

func TestEjectionPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EjectionPolicy)
		wantErr string
	}{
		{"默认合法", func(*EjectionPolicy) {}, ""},
		{"阈值为0", func(p *EjectionPolicy) { p.FailureThreshold = 0 }, "failure_threshold"},
		{"冷却为0", func(p *EjectionPolicy) { p.Cooldown = 0 }, "cooldown"},
		{"上限小于起始", func(p *EjectionPolicy) {
			p.Growth = GrowthExponential
			p.MaxCooldown = time.Second
		}, "max_cooldown"},
		{"未知策略", func(p *EjectionPolicy) { p.Growth = "linear" }, "unknown cooldown growth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultEjectionPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("期望错误包含%q，实际%v", tt.wantErr, err)
			}
		})
	}
}

func TestParseCooldownGrowth(t *testing.T) {
	for in, want := range map[string]CooldownGrowth{"": GrowthFixed, "FIXED": GrowthFixed, " exponential ": GrowthExponential} {
		got, err := ParseCooldownGrowth(in)
		if err != nil || got != want {
			t.Errorf("ParseCooldownGrowth(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCooldownGrowth("random"); err == nil {
		t.Error("期望未知策略返回错误")
	}
}

func TestKeyRegistry(t *testing.T) {
	reg, err := NewKeyRegistry([]KeyRecord{
		{Identifier: "PRIMARY", Secret: "sk-primary-0001"},
		{Identifier: " BACKUP ", Secret: "sk-backup-0002"},
	})
	if err != nil {
		t.Fatalf("NewKeyRegistry: %v", err)
	}
	if reg.Len() != 2 || reg.At(1).Identifier != "BACKUP" {
		t.Fatalf("注册表顺序或标识符规范化错误: %v", reg.Identifiers())
	}
	if k, ok := reg.Lookup("BACKUP"); !ok || k.Secret != "sk-backup-0002" {
		t.Fatal("Lookup失败")
	}
	if reg.Position("nope") != -1 || reg.Position("PRIMARY") != 0 {
		t.Fatal("Position错误")
	}

	ids := reg.Identifiers()
	ids[0] = "mutated"
	if reg.At(0).Identifier != "PRIMARY" {
		t.Fatal("Identifiers应返回副本")
	}
}

func TestKeyRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		keys []KeyRecord
	}{
		{"空列表", nil},
		{"空标识符", []KeyRecord{{Identifier: " ", Secret: "s"}}},
		{"空密钥", []KeyRecord{{Identifier: "A"}}},
		{"重复标识符", []KeyRecord{{Identifier: "A", Secret: "1"}, {Identifier: "A", Secret: "2"}}},
		{"非法字符", []KeyRecord{{Identifier: "A\nB", Secret: "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeyRegistry(tt.keys); err == nil {
				t.Fatal("期望返回错误")
			}
		})
	}
}

func TestKeyRegistry_DuplicateError(t *testing.T) {
	_, err := NewKeyRegistry([]KeyRecord{{Identifier: "A", Secret: "1"}, {Identifier: " A ", Secret: "2"}})
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) || dup.Identifier != "A" {
		t.Fatalf("期望 DuplicateKeyError(A)，实际 %v", err)
	}
}

func TestKeyRecord_StringMasksSecret(t *testing.T) {
	k := KeyRecord{Identifier: "PRIMARY", Secret: "sk-1234567890abcdef"}
	for _, s := range []string{k.String(), fmt.Sprintf("%v", k), fmt.Sprintf("%#v", k)} {
		if strings.Contains(s, "567890abc") {
			t.Fatalf("密钥泄漏: %s", s)
		}
	}
}

func TestEjectionPolicy_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   EjectionPolicy
		want EjectionPolicy
	}{
		{"零值", EjectionPolicy{}, DefaultEjectionPolicy()},
		{"仅冷却", EjectionPolicy{Cooldown: 2 * time.Minute}, EjectionPolicy{
			FailureThreshold: DefaultFailureThreshold, Cooldown: 2 * time.Minute,
			MaxCooldown: DefaultMaxCooldown, Growth: GrowthFixed, RecentErrorsCap: DefaultRecentErrorsCap,
		}},
		{"上限小于冷却", EjectionPolicy{FailureThreshold: 2, Cooldown: time.Hour, MaxCooldown: time.Minute, Growth: GrowthExponential}, EjectionPolicy{
			FailureThreshold: 2, Cooldown: time.Hour, MaxCooldown: time.Hour,
			Growth: GrowthExponential, RecentErrorsCap: DefaultRecentErrorsCap,
		}},
		{"非法增长策略", EjectionPolicy{Growth: "linear"}, DefaultEjectionPolicy()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.WithDefaults()
			if got != tt.want {
				t.Fatalf("WithDefaults() = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("补全后应合法: %v", err)
			}
		})
	}
}
