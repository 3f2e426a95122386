package rpcclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// maxResponseSize caps a single response line at 16 MiB (spec.md §4.3
// "The buffer accepts responses up to 16 MiB").
const maxResponseSize = 16 << 20

// FloodWaitError is the typed condition the client raises when the daemon
// reports error=="flood_wait" (spec.md §4.3 "raised as a named condition
// carrying seconds").
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %ds", e.Seconds)
}

// ErrDisconnected is returned by every call once the client has detected a
// connection loss and has not yet been reconnected (spec.md §4.3 "On
// connection loss the client marks itself disconnected and fails
// subsequent calls until reconnected").
var ErrDisconnected = errors.New("rpcclient: disconnected")

// Client is a single connection to the session daemon.
type Client struct {
	addr string

	mu        sync.Mutex
	conn      net.Conn
	scanner   *bufio.Scanner
	encoder   *json.Encoder
	connected atomic.Bool

	nextID atomic.Uint64
	cb     *gobreaker.CircuitBreaker[[]byte]
}

// Dial opens a connection to addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	c := &Client{addr: addr}
	c.cb = newBreaker(addr)
	if err := c.reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "rpcclient-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(bname string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(bname).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(bname, from.String(), to.String()).Inc()
			logging.Info().Str("breaker", bname).Str("from", from.String()).Str("to", to.String()).Msg("rpcclient circuit breaker transition")
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)

	c.mu.Lock()
	c.conn = conn
	c.scanner = scanner
	c.encoder = json.NewEncoder(conn)
	c.mu.Unlock()
	c.connected.Store(true)
	return nil
}

// Reconnect re-dials after a connection loss.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.reconnect(ctx)
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// call sends method with params and decodes the result into out. out may
// be nil to discard the result.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	if !c.connected.Load() {
		return ErrDisconnected
	}

	start := time.Now()
	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, params)
	})
	outcome := "success"
	defer func() {
		metrics.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
		metrics.ObserveDuration(metrics.RPCRequestDuration.WithLabelValues(method), start)
	}()

	if err != nil {
		var fw *FloodWaitError
		if errors.As(err, &fw) {
			outcome = rpcproto.ErrFloodWait
		} else {
			outcome = "error"
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				c.connected.Store(false)
			}
		}
		return err
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) roundTrip(ctx context.Context, method string, params interface{}) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rawParams []byte
	var err error
	if params != nil {
		rawParams, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}

	req := rpcproto.Request{ID: c.nextID.Add(1), Method: method, Params: rawParams}
	if err := c.encoder.Encode(req); err != nil {
		c.connected.Store(false)
		return nil, fmt.Errorf("write request: %w", err)
	}

	if !c.scanner.Scan() {
		c.connected.Store(false)
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("read response: connection closed")
	}

	var resp rpcproto.Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.Error == rpcproto.ErrFloodWait {
		return nil, &FloodWaitError{Seconds: resp.FloodWaitSeconds}
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", resp.Error, resp.Message)
	}
	return resp.Result, nil
}

func (c *Client) Ping(ctx context.Context) (rpcproto.PingResult, error) {
	var out rpcproto.PingResult
	err := c.call(ctx, rpcproto.MethodPing, nil, &out)
	return out, err
}

func (c *Client) GetClients(ctx context.Context) ([]rpcproto.ClientSummary, error) {
	var out []rpcproto.ClientSummary
	err := c.call(ctx, rpcproto.MethodGetClients, nil, &out)
	return out, err
}

func (c *Client) IterDialogs(ctx context.Context, p rpcproto.IterDialogsParams) ([]rpcproto.DialogChannel, error) {
	var out []rpcproto.DialogChannel
	err := c.call(ctx, rpcproto.MethodIterDialogs, p, &out)
	return out, err
}

func (c *Client) DownloadProfilePhoto(ctx context.Context, p rpcproto.DownloadProfilePhotoParams) (rpcproto.PathResult, error) {
	var out rpcproto.PathResult
	err := c.call(ctx, rpcproto.MethodDownloadProfilePhoto, p, &out)
	return out, err
}

func (c *Client) IterMessages(ctx context.Context, p rpcproto.IterMessagesParams) ([]rpcproto.MessageRecord, error) {
	var out []rpcproto.MessageRecord
	err := c.call(ctx, rpcproto.MethodIterMessages, p, &out)
	return out, err
}

func (c *Client) GetMessages(ctx context.Context, p rpcproto.GetMessagesParams) ([]rpcproto.MessageRecord, error) {
	var out []rpcproto.MessageRecord
	err := c.call(ctx, rpcproto.MethodGetMessages, p, &out)
	return out, err
}

func (c *Client) DownloadMedia(ctx context.Context, p rpcproto.DownloadMediaParams) (rpcproto.PathResult, error) {
	var out rpcproto.PathResult
	err := c.call(ctx, rpcproto.MethodDownloadMedia, p, &out)
	return out, err
}

func (c *Client) GetMediaHash(ctx context.Context, p rpcproto.GetMediaHashParams) (rpcproto.MediaHashResult, error) {
	var out rpcproto.MediaHashResult
	err := c.call(ctx, rpcproto.MethodGetMediaHash, p, &out)
	return out, err
}

func (c *Client) SendReadAcknowledge(ctx context.Context, p rpcproto.ReadAcknowledgeParams) (rpcproto.SuccessResult, error) {
	var out rpcproto.SuccessResult
	err := c.call(ctx, rpcproto.MethodSendReadAcknowledge, p, &out)
	return out, err
}

func (c *Client) GetReadState(ctx context.Context, p rpcproto.ReadStateParams) (rpcproto.ReadStateResult, error) {
	var out rpcproto.ReadStateResult
	err := c.call(ctx, rpcproto.MethodGetReadState, p, &out)
	return out, err
}
