package anchor

import "testing"

func TestNewUID(t *testing.T) {
	uid := NewUID("src", "dst", "/shop", "Shop", "store", 0)
	if len(uid) != 32 {
		t.Fatalf("uid length %d: %s", len(uid), uid)
	}
	if uid != NewUID("src", "dst", "/shop", "Shop", "store", 0) {
		t.Error("uid not deterministic")
	}
	if uid == NewUID("src", "dst", "/shop", "Shop", "store", 1) {
		t.Error("offset not part of uid")
	}
	if uid == NewUID("src", "dst", "/other", "Shop", "store", 0) {
		t.Error("href not part of uid")
	}
}

func TestLinkApplied(t *testing.T) {
	l := &Link{Status: StatusPending}
	if l.Applied() {
		t.Error("pending link reports applied")
	}
	l.Status = StatusApplied
	if !l.Applied() {
		t.Error("applied link reports pending")
	}
}
