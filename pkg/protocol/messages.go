// ABOUTME: Snapsync protocol message type definitions
// ABOUTME: JSON control messages exchanged with the server
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
)

// Message types
const (
	TypeClientHello    = "client/hello"
	TypeServerHello    = "server/hello"
	TypeClientTime     = "client/time"
	TypeServerTime     = "server/time"
	TypeClientState    = "client/state"
	TypeClientGoodbye  = "client/goodbye"
	TypeStreamStart    = "stream/start"
	TypeStreamClear    = "stream/clear"
	TypeStreamEnd      = "stream/end"
	TypeServerCommand  = "server/command"
	TypeServerSettings = "server/settings"
)

// Message is the top-level wrapper for all outgoing messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// envelope defers payload decoding until the type is known
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeMessage splits a JSON message into its type and raw payload
func DecodeMessage(data []byte) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("invalid message: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("invalid message: missing type")
	}
	return env.Type, env.Payload, nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID          string        `json:"client_id"`
	Name              string        `json:"name"`
	Version           int           `json:"version"`
	DeviceInfo        DeviceInfo    `json:"device_info"`
	SupportedFormats  []AudioFormat `json:"supported_formats"`
	BufferCapacity    int           `json:"buffer_capacity"`
	SupportedCommands []string      `json:"supported_commands"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// AudioFormat describes a supported audio format
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // µs, client clock
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// StreamStart announces the format of the following audio chunks
type StreamStart struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	BitDepth    int    `json:"bit_depth"`
	CodecHeader string `json:"codec_header,omitempty"` // base64
}

// Format converts the announcement into an audio.Format
func (s StreamStart) Format() (audio.Format, error) {
	codec, err := audio.ParseCodec(s.Codec)
	if err != nil {
		return audio.Format{}, err
	}

	var header []byte
	if s.CodecHeader != "" {
		header, err = base64.StdEncoding.DecodeString(s.CodecHeader)
		if err != nil {
			return audio.Format{}, fmt.Errorf("invalid codec header: %w", err)
		}
	}

	if s.SampleRate <= 0 || s.Channels <= 0 {
		return audio.Format{}, fmt.Errorf("invalid stream format: %dHz %dch", s.SampleRate, s.Channels)
	}

	return audio.Format{
		Codec:       codec,
		SampleRate:  s.SampleRate,
		Channels:    s.Channels,
		BitDepth:    s.BitDepth,
		CodecHeader: header,
	}, nil
}

// StreamClear instructs clients to drop buffered audio
type StreamClear struct{}

// StreamEnd ends the current stream
type StreamEnd struct{}

// ServerCommand is a control command for the player
type ServerCommand struct {
	Command string `json:"command"` // "volume" or "mute"
	Volume  int    `json:"volume,omitempty"`
	Mute    bool   `json:"mute,omitempty"`
}

// ServerSettings carries the server's per-client playback settings
type ServerSettings struct {
	BufferMs int  `json:"buffer_ms"` // end-to-end buffer of the stream
	Latency  int  `json:"latency"`   // extra latency configured for this client
	Volume   int  `json:"volume"`
	Muted    bool `json:"muted"`
}

// StartDelayMs is the delay the server expects between send and play
func (s ServerSettings) StartDelayMs() int64 {
	return int64(s.BufferMs) + int64(s.Latency)
}

// ClientState reports the player's current state
type ClientState struct {
	State  string `json:"state"` // "synchronized", "starting" or "idle"
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "restart", "user_request"
}
