// ABOUTME: WebSocket client for the snapsync protocol
// ABOUTME: Handles connection, handshake, and message routing
package protocol

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// BinaryMessageHeaderSize is the type byte plus the 8-byte timestamp
	BinaryMessageHeaderSize = 1 + 8

	// AudioChunkMessageType is the binary message type ID for audio chunks
	AudioChunkMessageType = 4

	// Path is the WebSocket endpoint on the server
	Path = "/snapsync"

	handshakeTimeout = 5 * time.Second
)

// ErrNotConnected is returned when sending without a connection
var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	ServerAddr        string
	ClientID          string
	Name              string
	Version           int
	DeviceInfo        DeviceInfo
	SupportedFormats  []AudioFormat
	BufferCapacity    int
	SupportedCommands []string
}

// AudioChunk is one timestamped payload from the server
type AudioChunk struct {
	Header audio.ChunkHeader
	Data   []byte
}

// Client represents a WebSocket client
type Client struct {
	config Config

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	codec     audio.Codec

	writeMu sync.Mutex

	// Message channels
	AudioChunks  chan AudioChunk
	Commands     chan ServerCommand
	TimeSyncResp chan ServerTime
	StreamStart  chan StreamStart
	StreamClear  chan StreamClear
	StreamEnd    chan StreamEnd
	Settings     chan ServerSettings

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:       config,
		AudioChunks:  make(chan AudioChunk, 100),
		Commands:     make(chan ServerCommand, 10),
		TimeSyncResp: make(chan ServerTime, 10),
		StreamStart:  make(chan StreamStart, 1),
		StreamClear:  make(chan StreamClear, 10),
		StreamEnd:    make(chan StreamEnd, 1),
		Settings:     make(chan ServerSettings, 10),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake sends client/hello and waits for server/hello
func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:          c.config.ClientID,
		Name:              c.config.Name,
		Version:           c.config.Version,
		DeviceInfo:        c.config.DeviceInfo,
		SupportedFormats:  c.config.SupportedFormats,
		BufferCapacity:    c.config.BufferCapacity,
		SupportedCommands: c.config.SupportedCommands,
	}

	if err := c.sendJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", env.Type)
	}

	var sh ServerHello
	if err := json.Unmarshal(env.Payload, &sh); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	log.Printf("Handshake complete with server %q (%s)", sh.Name, sh.ServerID)

	return c.SendState(ClientState{State: "idle", Volume: 100})
}

// sendJSON serializes writes; gorilla allows one concurrent writer
func (c *Client) sendJSON(msg Message) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Warnf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			log.Debugf("Ignoring WebSocket message type %d", messageType)
		}
	}
}

// ParseAudioChunk splits a binary audio message into header and payload
func ParseAudioChunk(data []byte, codec audio.Codec) (AudioChunk, error) {
	if len(data) < BinaryMessageHeaderSize {
		return AudioChunk{}, fmt.Errorf("binary message too short: %d bytes", len(data))
	}
	if data[0] != AudioChunkMessageType {
		return AudioChunk{}, fmt.Errorf("unknown binary message type: %d", data[0])
	}

	ts := int64(binary.BigEndian.Uint64(data[1:BinaryMessageHeaderSize]))
	payload := data[BinaryMessageHeaderSize:]

	return AudioChunk{
		Header: audio.HeaderFromMicros(ts, len(payload), codec),
		Data:   payload,
	}, nil
}

// EncodeAudioChunk builds the binary message for payload scheduled at ts (µs, server clock)
func EncodeAudioChunk(ts int64, payload []byte) []byte {
	data := make([]byte, BinaryMessageHeaderSize+len(payload))
	data[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(data[1:BinaryMessageHeaderSize], uint64(ts))
	copy(data[BinaryMessageHeaderSize:], payload)
	return data
}

// handleBinaryMessage handles audio chunks
func (c *Client) handleBinaryMessage(data []byte) {
	c.mu.RLock()
	codec := c.codec
	c.mu.RUnlock()

	chunk, err := ParseAudioChunk(data, codec)
	if err != nil {
		log.Warnf("Invalid binary message: %v", err)
		return
	}

	select {
	case c.AudioChunks <- chunk:
	case <-c.ctx.Done():
	}
}

// handleJSONMessage routes JSON messages to their channels
func (c *Client) handleJSONMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("Failed to parse JSON message: %v", err)
		return
	}

	log.Debugf("Received message type: %s", env.Type)

	switch env.Type {
	case TypeServerTime:
		var msg ServerTime
		if decodePayload(env, &msg) {
			deliver(c.ctx, c.TimeSyncResp, msg)
		}

	case TypeStreamStart:
		var msg StreamStart
		if decodePayload(env, &msg) {
			if codec, err := audio.ParseCodec(msg.Codec); err == nil {
				c.mu.Lock()
				c.codec = codec
				c.mu.Unlock()
			}
			deliver(c.ctx, c.StreamStart, msg)
		}

	case TypeStreamClear:
		deliver(c.ctx, c.StreamClear, StreamClear{})

	case TypeStreamEnd:
		deliver(c.ctx, c.StreamEnd, StreamEnd{})

	case TypeServerCommand:
		var msg ServerCommand
		if decodePayload(env, &msg) {
			deliver(c.ctx, c.Commands, msg)
		}

	case TypeServerSettings:
		var msg ServerSettings
		if decodePayload(env, &msg) {
			log.Printf("Server settings: buffer=%dms latency=%dms volume=%d muted=%v",
				msg.BufferMs, msg.Latency, msg.Volume, msg.Muted)
			deliver(c.ctx, c.Settings, msg)
		}

	default:
		log.Debugf("Unknown message type: %s", env.Type)
	}
}

func decodePayload(env envelope, v interface{}) bool {
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Warnf("Failed to parse %s: %v", env.Type, err)
		return false
	}
	return true
}

func deliver[T any](ctx context.Context, ch chan T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}

// SendState sends a client/state message
func (c *Client) SendState(state ClientState) error {
	return c.sendJSON(Message{Type: TypeClientState, Payload: state})
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(Message{Type: TypeClientGoodbye, Payload: ClientGoodbye{Reason: reason}})
}

// SendTimeSync sends a client/time message
func (c *Client) SendTimeSync(t1 int64) error {
	return c.sendJSON(Message{Type: TypeClientTime, Payload: ClientTime{ClientTransmitted: t1}})
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Done is closed when the connection goes away
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}
