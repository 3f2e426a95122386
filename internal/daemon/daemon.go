package daemon

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/upstream"
)

// sessionEntry pairs a Session with its own rate limiter, since FloodWait
// is scoped per upstream account (spec.md §4.2, §4.3).
type sessionEntry struct {
	session upstream.Session
	limiter *rate.Limiter
	primary bool
}

// Daemon holds every configured upstream session and serves requests
// against them over a TCP listener.
type Daemon struct {
	addr string

	mu        sync.RWMutex
	sessions  map[int64]*sessionEntry
	primaryID int64

	listener net.Listener
	wg       sync.WaitGroup

	// rateLimit configures each new session's token bucket: burst requests
	// immediately available, then refilled at this rate per second.
	rateLimit float64
	rateBurst int
}

// Config configures a Daemon.
type Config struct {
	Addr      string
	RateLimit float64 // requests/second per session
	RateBurst int
}

func New(cfg Config) *Daemon {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	return &Daemon{
		addr:      cfg.Addr,
		sessions:  make(map[int64]*sessionEntry),
		rateLimit: cfg.RateLimit,
		rateBurst: cfg.RateBurst,
	}
}

// AddSession registers a session under its credential id and connects it.
// The first session added, or the one explicitly marked primary, becomes
// the default routing target for requests without a client id (spec.md
// §4.2 "Client routing").
func (d *Daemon) AddSession(ctx context.Context, s upstream.Session, primary bool) error {
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("connect session %d: %w", s.CredentialID(), err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.CredentialID()] = &sessionEntry{
		session: s,
		limiter: rate.NewLimiter(rate.Limit(d.rateLimit), d.rateBurst),
		primary: primary,
	}
	if primary || d.primaryID == 0 {
		d.primaryID = s.CredentialID()
	}
	metrics.SessionConnected.WithLabelValues(fmt.Sprint(s.CredentialID())).Set(1)
	return nil
}

// Serve accepts connections until ctx is canceled. Each connection is
// handled in its own goroutine; Serve returns once the listener is closed
// and every connection goroutine has exited.
func (d *Daemon) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.addr, err)
	}
	d.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logging.Info().Str("addr", d.addr).Msg("session daemon listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				d.wg.Wait()
				return d.shutdownSessions(context.Background())
			default:
				logging.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConnection(ctx, conn)
		}()
	}
}

// shutdownSessions disconnects every session in parallel (spec.md §4.2
// "Shutdown. ... disconnects every session in parallel").
func (d *Daemon) shutdownSessions(ctx context.Context) error {
	d.mu.RLock()
	entries := make([]*sessionEntry, 0, len(d.sessions))
	for _, e := range d.sessions {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *sessionEntry) {
			defer wg.Done()
			if err := e.session.Disconnect(ctx); err != nil {
				logging.Warn().Err(err).Int64("credential_id", e.session.CredentialID()).Msg("session disconnect failed")
			}
		}(e)
	}
	wg.Wait()
	return nil
}

func (d *Daemon) sessionFor(clientID *int64) (*sessionEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id := d.primaryID
	if clientID != nil {
		id = *clientID
	}
	e, ok := d.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no session for client id %d", id)
	}
	return e, nil
}

// clientSummaries returns a redacted snapshot of every session, sorted by
// credential id for deterministic output.
func (d *Daemon) clientSummaries() []sessionSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]sessionSummary, 0, len(d.sessions))
	for id, e := range d.sessions {
		out = append(out, sessionSummary{
			id:        id,
			phone:     e.session.Phone(),
			connected: e.session.Connected(),
			primary:   id == d.primaryID,
			lastUsed:  e.session.LastUsed(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

type sessionSummary struct {
	id        int64
	phone     string
	connected bool
	primary   bool
	lastUsed  time.Time
}

func redactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
