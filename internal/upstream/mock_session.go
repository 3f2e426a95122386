package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// MockSession is an in-memory Session used by daemon and sync pipeline
// tests, avoiding a real upstream dependency entirely.
type MockSession struct {
	mu sync.Mutex

	credentialID int64
	phone        string
	connected    bool
	lastUsed     time.Time

	Dialogs       []rpcproto.DialogChannel
	Messages      map[int64][]rpcproto.MessageRecord // keyed by channel id
	ReadInboxMax  map[int64]int64
	FloodWaitNext bool
}

func NewMockSession(credentialID int64, phone string) *MockSession {
	return &MockSession{
		credentialID: credentialID,
		phone:        phone,
		Messages:     make(map[int64][]rpcproto.MessageRecord),
		ReadInboxMax: make(map[int64]int64),
	}
}

func (m *MockSession) CredentialID() int64 { return m.credentialID }
func (m *MockSession) Phone() string       { return m.phone }

func (m *MockSession) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockSession) LastUsed() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

func (m *MockSession) touch() {
	m.mu.Lock()
	m.lastUsed = time.Now()
	m.mu.Unlock()
}

func (m *MockSession) maybeFloodWait() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FloodWaitNext {
		m.FloodWaitNext = false
		return &FloodWaitError{Seconds: 30}
	}
	return nil
}

func (m *MockSession) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockSession) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *MockSession) IterDialogs(ctx context.Context) ([]rpcproto.DialogChannel, error) {
	m.touch()
	if err := m.maybeFloodWait(); err != nil {
		return nil, err
	}
	return m.Dialogs, nil
}

func (m *MockSession) DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (string, error) {
	m.touch()
	return destPath, nil
}

func (m *MockSession) IterMessages(ctx context.Context, p rpcproto.IterMessagesParams) ([]rpcproto.MessageRecord, error) {
	m.touch()
	if err := m.maybeFloodWait(); err != nil {
		return nil, err
	}
	msgs := m.Messages[p.ChannelID]
	var out []rpcproto.MessageRecord
	for _, msg := range msgs {
		if p.MinID != nil && msg.ID <= *p.MinID {
			continue
		}
		if p.MaxID != nil && msg.ID >= *p.MaxID {
			continue
		}
		out = append(out, msg)
		if p.Limit > 0 && len(out) >= p.Limit {
			break
		}
	}
	return out, nil
}

func (m *MockSession) GetMessages(ctx context.Context, p rpcproto.GetMessagesParams) ([]rpcproto.MessageRecord, error) {
	m.touch()
	wanted := make(map[int64]bool, len(p.IDs))
	for _, id := range p.IDs {
		wanted[id] = true
	}
	var out []rpcproto.MessageRecord
	for _, msg := range m.Messages[p.ChannelID] {
		if wanted[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MockSession) DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (string, error) {
	m.touch()
	return fmt.Sprintf("%d/%d.bin", channelID, messageID), nil
}

func (m *MockSession) GetMediaHash(ctx context.Context, channelID, accessHash, messageID int64) (rpcproto.MediaHashResult, error) {
	m.touch()
	return rpcproto.MediaHashResult{Size: 100, NeedsHash: false}, nil
}

func (m *MockSession) SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error {
	m.touch()
	m.mu.Lock()
	m.ReadInboxMax[channelID] = maxID
	m.mu.Unlock()
	return nil
}

func (m *MockSession) GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadInboxMax[channelID], nil
}

var _ Session = (*MockSession)(nil)
