package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPageURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://localhost:8080/",
		"127.0.0.1:9000": "http://127.0.0.1:9000/",
	}
	for addr, want := range tests {
		if got := pageURL(addr); got != want {
			t.Errorf("pageURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestSuperviseServer(t *testing.T) {
	t.Run("listen failure cancels the run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errAddrInUse := errors.New("address already in use")
		done := superviseServer(ctx, cancel, func(context.Context) error {
			return errAddrInUse
		})

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("server failure did not cancel the run")
		}
		if err := <-done; !errors.Is(err, errAddrInUse) {
			t.Errorf("server error = %v, want %v", err, errAddrInUse)
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := superviseServer(ctx, cancel, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("server error = %v, want nil", err)
			}
		case <-time.After(time.Second):
			t.Fatal("server did not stop after cancel")
		}
	})
}
