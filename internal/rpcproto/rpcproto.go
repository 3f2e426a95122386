// Package rpcproto defines the newline-delimited JSON wire protocol shared
// between the session daemon (C2) and the RPC client/pool (C3). Every
// value here is a plain struct; encoding is left to the caller so both
// sides can use goccy/go-json without this package importing it directly.
package rpcproto

import "encoding/json"

// Request is one line of a client->daemon connection. Params is left raw
// so each method can define its own shape without a giant discriminated
// union here.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line of a daemon->client reply. Exactly one of Result or
// Error is set. Request/response ordering is 1:1 per connection (spec.md
// §4.2), so ID round-trips the request that produced this response.
type Response struct {
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`

	// FloodWaitSeconds is set alongside Error == ErrFloodWait (spec.md §4.2
	// "FloodWait contract").
	FloodWaitSeconds int `json:"flood_wait_seconds,omitempty"`
}

// ErrFloodWait is the Response.Error value signaling a rate-limit
// backoff demanded by the upstream, never retried inside the daemon.
const ErrFloodWait = "flood_wait"

const (
	MethodPing                  = "ping"
	MethodGetClients            = "get_clients"
	MethodIterDialogs           = "iter_dialogs"
	MethodDownloadProfilePhoto  = "download_profile_photo"
	MethodIterMessages          = "iter_messages"
	MethodGetMessages           = "get_messages"
	MethodDownloadMedia         = "download_media"
	MethodGetMediaHash          = "get_media_hash"
	MethodSendReadAcknowledge   = "send_read_acknowledge"
	MethodGetReadState          = "get_read_state"
)

// PingResult is the result of MethodPing.
type PingResult struct {
	Status    string `json:"status"`
	Clients   int    `json:"clients"`
	PrimaryID int64  `json:"primary_id"`
}

// ClientSummary is one entry of MethodGetClients's result, with the phone
// number redacted to its last four digits.
type ClientSummary struct {
	ID           int64  `json:"id"`
	PhoneRedacted string `json:"phone_redacted"`
	Connected    bool   `json:"connected"`
	Primary      bool   `json:"primary"`
	LastUsed     int64  `json:"last_used,omitempty"` // unix seconds, 0 if never used
}

// DialogChannel is one entry of MethodIterDialogs's result.
type DialogChannel struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash"`
	Title      string `json:"title"`
	Username   string `json:"username,omitempty"`
	PhotoID    int64  `json:"photo_id,omitempty"`
	Broadcast  bool   `json:"broadcast"`
	Scam       bool   `json:"scam"`
	Verified   bool   `json:"verified"`
	Restricted bool   `json:"restricted"`
}

// IterDialogsParams is MethodIterDialogs's params.
type IterDialogsParams struct {
	ClientID *int64 `json:"client_id,omitempty"`
}

// DownloadProfilePhotoParams is MethodDownloadProfilePhoto's params.
type DownloadProfilePhotoParams struct {
	ClientID   *int64 `json:"client_id,omitempty"`
	ChannelID  int64  `json:"channel_id"`
	AccessHash int64  `json:"access_hash"`
	DestPath   string `json:"dest_path"`
}

// PathResult is shared by MethodDownloadProfilePhoto and MethodDownloadMedia:
// a relative path on success, or a nil path with an error string.
type PathResult struct {
	Path  *string `json:"path"`
	Error string  `json:"error,omitempty"`
}

// IterMessagesParams is MethodIterMessages's params.
type IterMessagesParams struct {
	ClientID   *int64 `json:"client_id,omitempty"`
	ChannelID  int64  `json:"channel_id"`
	AccessHash int64  `json:"access_hash"`
	MinID      *int64 `json:"min_id,omitempty"`
	MaxID      *int64 `json:"max_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Reverse    bool   `json:"reverse,omitempty"`
}

// GetMessagesParams is MethodGetMessages's params.
type GetMessagesParams struct {
	ClientID   *int64  `json:"client_id,omitempty"`
	ChannelID  int64   `json:"channel_id"`
	AccessHash int64   `json:"access_hash"`
	IDs        []int64 `json:"ids"`
}

// MessageRecord is the wire shape of an upstream message, the raw material
// the sync pipeline (C4) turns into a models.Message.
type MessageRecord struct {
	ID           int64           `json:"id"`
	Date         int64           `json:"date"` // unix seconds
	Text         string          `json:"text"`
	Entities     json.RawMessage `json:"entities,omitempty"`
	Out          bool            `json:"out"`
	Mentioned    bool            `json:"mentioned"`
	Silent       bool            `json:"silent"`
	Post         bool            `json:"post"`
	FromID       *int64          `json:"from_id,omitempty"`
	FwdFromID    *int64          `json:"fwd_from_id,omitempty"`
	FwdFromName  *string         `json:"fwd_from_name,omitempty"`
	FwdDate      *int64          `json:"fwd_date,omitempty"`
	ReplyToMsgID *int64          `json:"reply_to_msg_id,omitempty"`
	MediaType    string          `json:"media_type,omitempty"`
	ViewCount    int64           `json:"view_count,omitempty"`
	ForwardCount int64           `json:"forward_count,omitempty"`
	ReplyCount   int64           `json:"reply_count,omitempty"`
	GroupedID    *int64          `json:"grouped_id,omitempty"`
}

// DownloadMediaParams is MethodDownloadMedia's params.
type DownloadMediaParams struct {
	ClientID   *int64 `json:"client_id,omitempty"`
	ChannelID  int64  `json:"channel_id"`
	AccessHash int64  `json:"access_hash"`
	MessageID  int64  `json:"message_id"`
	DestDir    string `json:"dest_dir"`
}

// GetMediaHashParams is MethodGetMediaHash's params.
type GetMediaHashParams struct {
	ClientID   *int64 `json:"client_id,omitempty"`
	ChannelID  int64  `json:"channel_id"`
	AccessHash int64  `json:"access_hash"`
	MessageID  int64  `json:"message_id"`
}

// MediaHashResult is MethodGetMediaHash's result. A file larger than 64 KiB
// is hashed over only its first 64 KiB (spec.md §4.2); a file at or below
// that size sets NeedsHash false and Hash empty, since the caller downloads
// such files directly instead.
type MediaHashResult struct {
	Size      int64  `json:"size"`
	Hash      string `json:"hash,omitempty"`
	NeedsHash bool   `json:"needs_hash"`
}

// ReadAcknowledgeParams is MethodSendReadAcknowledge's params.
type ReadAcknowledgeParams struct {
	ClientID   *int64 `json:"client_id,omitempty"`
	ChannelID  int64  `json:"channel_id"`
	AccessHash int64  `json:"access_hash"`
	MaxID      int64  `json:"max_id"`
}

// SuccessResult wraps a bare boolean result.
type SuccessResult struct {
	Success bool `json:"success"`
}

// ReadStateParams is MethodGetReadState's params.
type ReadStateParams struct {
	ClientID   *int64 `json:"client_id,omitempty"`
	ChannelID  int64  `json:"channel_id"`
	AccessHash int64  `json:"access_hash"`
}

// ReadStateResult is MethodGetReadState's result.
type ReadStateResult struct {
	ReadInboxMaxID int64 `json:"read_inbox_max_id"`
}
