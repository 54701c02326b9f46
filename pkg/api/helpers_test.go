package api

import (
	"context"
	"net"
	"testing"
	"time"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)

func newLocalListener() (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}
