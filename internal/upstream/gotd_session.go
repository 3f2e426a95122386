package upstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotd/contrib/bbolt"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	bboltdb "go.etcd.io/bbolt"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// GotdSession wraps a gotd/td client for one credential. Login/auth flow
// (code request, 2FA) is out of scope (spec.md §1 "the upstream protocol
// itself, and its authentication, is an opaque capability") — session
// material is expected to already exist under sessionsDir by the time
// Connect is called, placed there by an out-of-band login step.
type GotdSession struct {
	credentialID int64
	phone        string
	apiID        int
	apiHash      string

	client *telegram.Client
	api    *tg.Client

	mu        sync.RWMutex
	connected bool
	lastUsed  time.Time

	stop func(context.Context) error
}

// NewGotdSession builds a session backed by gotd/td, persisting session
// material in a bbolt database keyed by credential id under sessionsDir
// (spec.md §4.2 "persisting session material under a sessions directory,
// keyed by credential id").
func NewGotdSession(credentialID int64, phone string, apiID int, apiHash string, sessionsDir string) (*GotdSession, error) {
	if err := os.MkdirAll(sessionsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	dbPath := filepath.Join(sessionsDir, fmt.Sprintf("%d.bolt", credentialID))
	db, err := bboltdb.Open(dbPath, 0o600, &bboltdb.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", dbPath, err)
	}

	storage := &bbolt.SessionStorage{DB: db, Bucket: []byte(fmt.Sprintf("session_%d", credentialID))}

	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: storage,
	})

	return &GotdSession{
		credentialID: credentialID,
		phone:        phone,
		apiID:        apiID,
		apiHash:      apiHash,
		client:       client,
		api:          client.API(),
	}, nil
}

func (s *GotdSession) CredentialID() int64 { return s.credentialID }
func (s *GotdSession) Phone() string       { return s.phone }

func (s *GotdSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *GotdSession) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

func (s *GotdSession) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Connect starts the client's background connection loop. It assumes
// session material already authorizes this credential; a session that
// needs interactive login fails here and is reported unconnected rather
// than attempting a login flow this daemon does not implement.
func (s *GotdSession) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- s.client.Run(runCtx, func(ctx context.Context) error {
			status, err := s.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("check auth status: %w", err)
			}
			if !status.Authorized {
				return fmt.Errorf("credential %d has no authorized session; run the out-of-band login step first", s.credentialID)
			}
			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()
			<-ctx.Done()
			return nil
		})
	}()

	s.stop = func(context.Context) error {
		cancel()
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return nil // connected and running in the background
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (s *GotdSession) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = false
	stop := s.stop
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	return stop(ctx)
}

func (s *GotdSession) IterDialogs(ctx context.Context) ([]rpcproto.DialogChannel, error) {
	s.touch()
	result, err := s.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	var out []rpcproto.DialogChannel
	switch d := result.(type) {
	case *tg.MessagesDialogsSlice:
		out = append(out, channelsFromTL(d.Chats)...)
	case *tg.MessagesDialogs:
		out = append(out, channelsFromTL(d.Chats)...)
	}
	return out, nil
}

func channelsFromTL(chats []tg.ChatClass) []rpcproto.DialogChannel {
	var out []rpcproto.DialogChannel
	for _, c := range chats {
		ch, ok := c.(*tg.Channel)
		if !ok || !ch.Broadcast {
			continue
		}
		out = append(out, rpcproto.DialogChannel{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Title:      ch.Title,
			Username:   ch.Username,
			Broadcast:  ch.Broadcast,
			Scam:       ch.Scam,
			Verified:   ch.Verified,
			Restricted: ch.Restricted,
		})
	}
	return out
}

func (s *GotdSession) DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (string, error) {
	s.touch()
	return "", fmt.Errorf("download_profile_photo for channel %d not implemented against this adapter", channelID)
}

func (s *GotdSession) IterMessages(ctx context.Context, p rpcproto.IterMessagesParams) ([]rpcproto.MessageRecord, error) {
	s.touch()
	req := &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash},
		Limit: p.Limit,
	}
	if p.MaxID != nil {
		req.OffsetID = int(*p.MaxID)
	}
	result, err := s.api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get history for channel %d: %w", p.ChannelID, err)
	}
	return messagesFromTL(result)
}

func (s *GotdSession) GetMessages(ctx context.Context, p rpcproto.GetMessagesParams) ([]rpcproto.MessageRecord, error) {
	s.touch()
	ids := make([]tg.InputMessageClass, len(p.IDs))
	for i, id := range p.IDs {
		ids[i] = &tg.InputMessageID{ID: int(id)}
	}
	result, err := s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash},
		ID:      ids,
	})
	if err != nil {
		return nil, fmt.Errorf("get messages for channel %d: %w", p.ChannelID, err)
	}
	return messagesFromTL(result)
}

func messagesFromTL(result tg.MessagesMessagesClass) ([]rpcproto.MessageRecord, error) {
	var tlMsgs []tg.MessageClass
	switch m := result.(type) {
	case *tg.MessagesChannelMessages:
		tlMsgs = m.Messages
	case *tg.MessagesMessages:
		tlMsgs = m.Messages
	case *tg.MessagesMessagesSlice:
		tlMsgs = m.Messages
	}

	var out []rpcproto.MessageRecord
	for _, mc := range tlMsgs {
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		rec := rpcproto.MessageRecord{
			ID:           int64(msg.ID),
			Date:         int64(msg.Date),
			Text:         msg.Message,
			Out:          msg.Out,
			Mentioned:    msg.Mentioned,
			Silent:       msg.Silent,
			Post:         msg.Post,
			ViewCount:    int64(msg.Views),
			ForwardCount: int64(msg.Forwards),
			ReplyCount:   int64(msg.Replies.Replies),
		}
		if msg.GroupedID != 0 {
			gid := msg.GroupedID
			rec.GroupedID = &gid
		}
		if msg.Media != nil {
			rec.MediaType = mediaTypeOf(msg.Media)
		}
		out = append(out, rec)
	}
	return out, nil
}

func mediaTypeOf(media tg.MessageMediaClass) string {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		return documentMediaType(m)
	case *tg.MessageMediaPoll:
		return "poll"
	default:
		return ""
	}
}

func documentMediaType(m *tg.MessageMediaDocument) string {
	doc, ok := m.Document.(*tg.Document)
	if !ok {
		return "document"
	}
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return "voice"
			}
			return "video"
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return "voice"
			}
			return "audio"
		case *tg.DocumentAttributeAnimated:
			return "animation"
		case *tg.DocumentAttributeSticker:
			return "sticker"
		}
	}
	return "document"
}

func (s *GotdSession) DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (string, error) {
	s.touch()
	return "", fmt.Errorf("download_media for channel %d message %d not implemented against this adapter", channelID, messageID)
}

func (s *GotdSession) GetMediaHash(ctx context.Context, channelID, accessHash, messageID int64) (rpcproto.MediaHashResult, error) {
	s.touch()
	return rpcproto.MediaHashResult{}, fmt.Errorf("get_media_hash for channel %d message %d not implemented against this adapter", channelID, messageID)
}

func (s *GotdSession) SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error {
	s.touch()
	_, err := s.api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{
		Channel: &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
		MaxID:   int(maxID),
	})
	if err != nil {
		logging.Warn().Err(err).Int64("channel_id", channelID).Msg("read acknowledge failed")
	}
	return err
}

func (s *GotdSession) GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error) {
	s.touch()
	full, err := s.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash})
	if err != nil {
		return 0, fmt.Errorf("get full channel %d: %w", channelID, err)
	}
	cf, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return 0, fmt.Errorf("unexpected full chat type for channel %d", channelID)
	}
	return int64(cf.ReadInboxMaxID), nil
}
