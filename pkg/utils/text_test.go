package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("统计每个城市", 2); got != "统计..." {
		t.Errorf("rune truncation: got %s", got)
	}
}

func TestAppendUnique(t *testing.T) {
	got := AppendUnique([]string{"a"}, "b", "a", "", "c", "b")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestContainsAny(t *testing.T) {
	if !ContainsAny("上周的销售额", "昨天", "上周") {
		t.Error("expected match")
	}
	if ContainsAny("abc", "", "x") {
		t.Error("expected no match")
	}
}
