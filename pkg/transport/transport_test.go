package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
)

func TestPipeRoundTripsGreeting(t *testing.T) {
	master, daemon := NewPipe()
	defer master.Close()
	defer daemon.Close()

	want := v1.NewGreeting(v1.RoleDaemon, "node0")
	if err := daemon.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	head, body, err := master.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if head != v1.HeadGreeting {
		t.Fatalf("head = %q, want %q", head, v1.HeadGreeting)
	}
	_ = body
}

func TestPipeRecvHonorsContextCancellation(t *testing.T) {
	master, daemon := NewPipe()
	defer master.Close()
	defer daemon.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := master.Recv(ctx); err == nil {
		t.Fatalf("expected a timeout error when nothing is sent")
	}
}

func TestPipeCloseUnblocksSend(t *testing.T) {
	master, daemon := NewPipe()
	daemon.Close()
	master.Close()
	if err := master.Send(v1.NewGreeting(v1.RoleUser, "x")); err == nil {
		t.Fatalf("expected Send on a closed pipe to fail")
	}
}

func TestWebsocketConnRoundTripsJobFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		conn := NewConn(ws)
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		head, _, err := conn.Recv(ctx)
		if err != nil {
			t.Errorf("server Recv: %v", err)
			return
		}
		if head != v1.HeadJobFinish {
			t.Errorf("head = %q, want %q", head, v1.HeadJobFinish)
		}
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(v1.NewJobFinish(1, v1.Returns{ExitCode: 0})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
}
