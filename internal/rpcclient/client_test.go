package rpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// startEchoDaemon runs a minimal listener that answers "ping" requests and
// everything else with a flood_wait error, enough to exercise the client
// without depending on the daemon package (which would create an import
// cycle through rpcproto-only fixtures).
func startEchoDaemon(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				dec := json.NewDecoder(conn)
				enc := json.NewEncoder(conn)
				for {
					var req rpcproto.Request
					if err := dec.Decode(&req); err != nil {
						return
					}
					if req.Method == rpcproto.MethodPing {
						result, _ := json.Marshal(rpcproto.PingResult{Status: "ok", Clients: 1, PrimaryID: 7})
						_ = enc.Encode(rpcproto.Response{ID: req.ID, Result: result})
						continue
					}
					_ = enc.Encode(rpcproto.Response{ID: req.ID, Error: rpcproto.ErrFloodWait, FloodWaitSeconds: 5})
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestClientPing(t *testing.T) {
	addr := startEchoDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Ping(ctx)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if result.PrimaryID != 7 {
		t.Errorf("PrimaryID = %d, want 7", result.PrimaryID)
	}
}

func TestClientSurfacesFloodWaitAsTypedError(t *testing.T) {
	addr := startEchoDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.IterDialogs(ctx, rpcproto.IterDialogsParams{})
	if err == nil {
		t.Fatal("expected an error")
	}
	fw, ok := err.(*FloodWaitError)
	if !ok {
		t.Fatalf("expected *FloodWaitError, got %T: %v", err, err)
	}
	if fw.Seconds != 5 {
		t.Errorf("Seconds = %d, want 5", fw.Seconds)
	}
}

func TestDialPoolRoundRobins(t *testing.T) {
	addr := startEchoDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := DialPool(ctx, addr, 3)
	if err != nil {
		t.Fatalf("DialPool: %v", err)
	}
	defer pool.Close()

	seen := make(map[*Client]bool)
	for i := 0; i < 6; i++ {
		seen[pool.Get()] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected round-robin across 3 distinct clients, saw %d", len(seen))
	}
}

func TestClientMarksDisconnectedAfterConnectionLoss(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	conn := <-accepted
	conn.Close()
	ln.Close()

	_, err = c.Ping(ctx)
	if err == nil {
		t.Fatal("expected an error after the server closed the connection")
	}
	if c.Connected() {
		t.Error("expected client to mark itself disconnected after connection loss")
	}
}
