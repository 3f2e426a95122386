// Package upstream defines the opaque capability the session daemon (C2)
// dials through. The wire protocol in internal/rpcproto is the only thing
// the rest of the system is allowed to depend on; Session is how the
// daemon process itself talks to the actual broadcast-channel backend. Only
// the daemon package, and the entrypoint that constructs its sessions, use
// it directly.
package upstream

import (
	"context"
	"time"

	"github.com/righttechsoft/tgfeed/internal/rpcproto"
)

// Session is one authenticated connection to the upstream backend, scoped
// to a single credential. Every method mirrors an rpcproto method 1:1; the
// daemon's dispatcher is a thin translation layer over this interface.
type Session interface {
	CredentialID() int64
	Phone() string
	Connected() bool

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	IterDialogs(ctx context.Context) ([]rpcproto.DialogChannel, error)
	DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (string, error)
	IterMessages(ctx context.Context, p rpcproto.IterMessagesParams) ([]rpcproto.MessageRecord, error)
	GetMessages(ctx context.Context, p rpcproto.GetMessagesParams) ([]rpcproto.MessageRecord, error)
	DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (string, error)
	GetMediaHash(ctx context.Context, channelID, accessHash, messageID int64) (rpcproto.MediaHashResult, error)
	SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error
	GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error)

	LastUsed() time.Time
}

// FloodWaitError is returned by any Session method when the upstream asks
// the caller to back off. The daemon translates this into the
// rpcproto.ErrFloodWait response; it is never retried inside the daemon
// itself (spec.md §4.2).
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return "flood wait"
}
