package daemon

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"github.com/goccy/go-json"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
	"github.com/righttechsoft/tgfeed/internal/upstream"
)

// handleConnection reads newline-delimited requests from conn until it
// closes or ctx is canceled, processing each sequentially so
// request/response ordering stays 1:1 on a single connection (spec.md
// §4.2 "Wire format").
func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req rpcproto.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(rpcproto.Response{Error: "invalid_request", Message: err.Error()})
			continue
		}

		resp := d.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			logging.Warn().Err(err).Msg("failed to write response")
			return
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	start := time.Now()
	resp := d.dispatchMethod(ctx, req)
	resp.ID = req.ID

	outcome := "success"
	if resp.Error != "" {
		outcome = resp.Error
	}
	metrics.RPCRequestsTotal.WithLabelValues(req.Method, outcome).Inc()
	metrics.ObserveDuration(metrics.RPCRequestDuration.WithLabelValues(req.Method), start)
	if resp.Error == rpcproto.ErrFloodWait {
		metrics.FloodWaitTotal.WithLabelValues(req.Method).Inc()
	}
	return resp
}

func (d *Daemon) dispatchMethod(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	switch req.Method {
	case rpcproto.MethodPing:
		return d.handlePing()
	case rpcproto.MethodGetClients:
		return d.handleGetClients()
	case rpcproto.MethodIterDialogs:
		return d.handleIterDialogs(ctx, req)
	case rpcproto.MethodDownloadProfilePhoto:
		return d.handleDownloadProfilePhoto(ctx, req)
	case rpcproto.MethodIterMessages:
		return d.handleIterMessages(ctx, req)
	case rpcproto.MethodGetMessages:
		return d.handleGetMessages(ctx, req)
	case rpcproto.MethodDownloadMedia:
		return d.handleDownloadMedia(ctx, req)
	case rpcproto.MethodGetMediaHash:
		return d.handleGetMediaHash(ctx, req)
	case rpcproto.MethodSendReadAcknowledge:
		return d.handleSendReadAcknowledge(ctx, req)
	case rpcproto.MethodGetReadState:
		return d.handleGetReadState(ctx, req)
	default:
		return rpcproto.Response{Error: "unknown_method", Message: req.Method}
	}
}

func (d *Daemon) handlePing() rpcproto.Response {
	d.mu.RLock()
	n := len(d.sessions)
	primary := d.primaryID
	d.mu.RUnlock()
	return encodeResult(rpcproto.PingResult{Status: "ok", Clients: n, PrimaryID: primary})
}

func (d *Daemon) handleGetClients() rpcproto.Response {
	summaries := d.clientSummaries()
	out := make([]rpcproto.ClientSummary, len(summaries))
	for i, s := range summaries {
		var lastUsed int64
		if !s.lastUsed.IsZero() {
			lastUsed = s.lastUsed.Unix()
		}
		out[i] = rpcproto.ClientSummary{
			ID:            s.id,
			PhoneRedacted: redactPhone(s.phone),
			Connected:     s.connected,
			Primary:       s.primary,
			LastUsed:      lastUsed,
		}
	}
	return encodeResult(out)
}

// withLimitedSession resolves the target session for params carrying an
// optional client id, blocks on its rate limiter, and runs fn — the single
// choke point every per-session method call passes through.
func withLimitedSession[T any](d *Daemon, ctx context.Context, clientID *int64, fn func(upstream.Session) (T, error)) (T, error) {
	var zero T
	entry, err := d.sessionFor(clientID)
	if err != nil {
		return zero, err
	}
	if err := entry.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	return fn(entry.session)
}

func (d *Daemon) handleIterDialogs(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.IterDialogsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcproto.Response{Error: "bad_params", Message: err.Error()}
		}
	}
	dialogs, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) ([]rpcproto.DialogChannel, error) {
		return s.IterDialogs(ctx)
	})
	if err != nil {
		return floodWaitOr(err)
	}
	return encodeResult(dialogs)
}

func (d *Daemon) handleDownloadProfilePhoto(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.DownloadProfilePhotoParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	path, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) (string, error) {
		return s.DownloadProfilePhoto(ctx, p.ChannelID, p.AccessHash, p.DestPath)
	})
	if err != nil {
		if fw, ok := asFloodWait(err); ok {
			return floodWaitResponse(fw)
		}
		return encodeResult(rpcproto.PathResult{Path: nil, Error: err.Error()})
	}
	return encodeResult(rpcproto.PathResult{Path: &path})
}

func (d *Daemon) handleIterMessages(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.IterMessagesParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	msgs, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) ([]rpcproto.MessageRecord, error) {
		return s.IterMessages(ctx, p)
	})
	if err != nil {
		return floodWaitOr(err)
	}
	return encodeResult(msgs)
}

func (d *Daemon) handleGetMessages(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.GetMessagesParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	msgs, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) ([]rpcproto.MessageRecord, error) {
		return s.GetMessages(ctx, p)
	})
	if err != nil {
		return floodWaitOr(err)
	}
	return encodeResult(msgs)
}

func (d *Daemon) handleDownloadMedia(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.DownloadMediaParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	path, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) (string, error) {
		return s.DownloadMedia(ctx, p.ChannelID, p.AccessHash, p.MessageID, p.DestDir)
	})
	if err != nil {
		if fw, ok := asFloodWait(err); ok {
			return floodWaitResponse(fw)
		}
		return encodeResult(rpcproto.PathResult{Path: nil, Error: err.Error()})
	}
	return encodeResult(rpcproto.PathResult{Path: &path})
}

func (d *Daemon) handleGetMediaHash(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.GetMediaHashParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	result, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) (rpcproto.MediaHashResult, error) {
		return s.GetMediaHash(ctx, p.ChannelID, p.AccessHash, p.MessageID)
	})
	if err != nil {
		return floodWaitOr(err)
	}
	return encodeResult(result)
}

func (d *Daemon) handleSendReadAcknowledge(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.ReadAcknowledgeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	_, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) (struct{}, error) {
		return struct{}{}, s.SendReadAcknowledge(ctx, p.ChannelID, p.AccessHash, p.MaxID)
	})
	if err != nil {
		return floodWaitOr(err)
	}
	return encodeResult(rpcproto.SuccessResult{Success: true})
}

func (d *Daemon) handleGetReadState(ctx context.Context, req rpcproto.Request) rpcproto.Response {
	var p rpcproto.ReadStateParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return rpcproto.Response{Error: "bad_params", Message: err.Error()}
	}
	maxID, err := withLimitedSession(d, ctx, p.ClientID, func(s upstream.Session) (int64, error) {
		return s.GetReadState(ctx, p.ChannelID, p.AccessHash)
	})
	if err != nil {
		return floodWaitOr(err)
	}
	return encodeResult(rpcproto.ReadStateResult{ReadInboxMaxID: maxID})
}

func encodeResult(v interface{}) rpcproto.Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return rpcproto.Response{Error: "encode_failed", Message: err.Error()}
	}
	return rpcproto.Response{Result: raw}
}

func asFloodWait(err error) (*upstream.FloodWaitError, bool) {
	var fw *upstream.FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

func floodWaitResponse(fw *upstream.FloodWaitError) rpcproto.Response {
	return rpcproto.Response{Error: rpcproto.ErrFloodWait, FloodWaitSeconds: fw.Seconds}
}

func floodWaitOr(err error) rpcproto.Response {
	if fw, ok := asFloodWait(err); ok {
		return floodWaitResponse(fw)
	}
	return rpcproto.Response{Error: "internal_error", Message: err.Error()}
}
