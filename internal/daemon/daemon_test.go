package daemon

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"github.com/righttechsoft/tgfeed/internal/rpcproto"
	"github.com/righttechsoft/tgfeed/internal/upstream"
)

func newTestDaemon(t *testing.T) (*Daemon, *upstream.MockSession) {
	t.Helper()
	d := New(Config{Addr: "127.0.0.1:0", RateLimit: 1000, RateBurst: 1000})
	session := upstream.NewMockSession(1, "+15551234567")
	if err := d.AddSession(context.Background(), session, true); err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	return d, session
}

func TestPingReportsPrimaryAndClientCount(t *testing.T) {
	d, _ := newTestDaemon(t)

	resp := d.dispatch(context.Background(), rpcproto.Request{ID: 1, Method: rpcproto.MethodPing})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	var result rpcproto.PingResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Clients != 1 || result.PrimaryID != 1 {
		t.Errorf("result = %+v, want Clients=1 PrimaryID=1", result)
	}
}

func TestGetClientsRedactsPhone(t *testing.T) {
	d, _ := newTestDaemon(t)

	resp := d.dispatch(context.Background(), rpcproto.Request{ID: 2, Method: rpcproto.MethodGetClients})
	var clients []rpcproto.ClientSummary
	if err := json.Unmarshal(resp.Result, &clients); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected 1 client, got %d", len(clients))
	}
	if clients[0].PhoneRedacted != "****4567" {
		t.Errorf("PhoneRedacted = %q, want %q", clients[0].PhoneRedacted, "****4567")
	}
}

func TestIterDialogsSurfacesFloodWait(t *testing.T) {
	d, session := newTestDaemon(t)
	session.FloodWaitNext = true

	params, _ := json.Marshal(rpcproto.IterDialogsParams{})
	resp := d.dispatch(context.Background(), rpcproto.Request{ID: 3, Method: rpcproto.MethodIterDialogs, Params: params})

	if resp.Error != rpcproto.ErrFloodWait {
		t.Fatalf("Error = %q, want %q", resp.Error, rpcproto.ErrFloodWait)
	}
	if resp.FloodWaitSeconds != 30 {
		t.Errorf("FloodWaitSeconds = %d, want 30", resp.FloodWaitSeconds)
	}
}

func TestSendReadAcknowledgeUpdatesReadState(t *testing.T) {
	d, _ := newTestDaemon(t)

	ackParams, _ := json.Marshal(rpcproto.ReadAcknowledgeParams{ChannelID: 100, MaxID: 42})
	resp := d.dispatch(context.Background(), rpcproto.Request{ID: 4, Method: rpcproto.MethodSendReadAcknowledge, Params: ackParams})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	stateParams, _ := json.Marshal(rpcproto.ReadStateParams{ChannelID: 100})
	resp = d.dispatch(context.Background(), rpcproto.Request{ID: 5, Method: rpcproto.MethodGetReadState, Params: stateParams})
	var result rpcproto.ReadStateResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ReadInboxMaxID != 42 {
		t.Errorf("ReadInboxMaxID = %d, want 42", result.ReadInboxMaxID)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	d, _ := newTestDaemon(t)
	resp := d.dispatch(context.Background(), rpcproto.Request{ID: 6, Method: "does_not_exist"})
	if resp.Error != "unknown_method" {
		t.Errorf("Error = %q, want %q", resp.Error, "unknown_method")
	}
}
