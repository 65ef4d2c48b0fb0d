package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnectAcceptsURLAndAddress(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, target := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := Connect(context.Background(), target)
		if err != nil {
			t.Fatalf("connect %s: %v", target, err)
		}
		_ = client.Close()
	}
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Connect(context.Background(), addr); err == nil {
		t.Fatalf("expected ping failure")
	}
	if _, err := Connect(context.Background(), " "); err == nil {
		t.Fatalf("expected empty url error")
	}
}
