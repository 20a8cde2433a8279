// ABOUTME: Reference snapsync server streaming a test tone
// ABOUTME: Manages WebSocket clients, answers time sync and pushes settings and audio
package toneserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/snapsync-go/internal/discovery"
	"github.com/Resonate-Protocol/snapsync-go/pkg/audio"
	"github.com/Resonate-Protocol/snapsync-go/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const (
	// ProtocolVersion is the protocol version this server speaks
	ProtocolVersion = 1

	typeServerError = "server/error"

	sendQueueSize = 100
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// ErrSendQueueFull is returned when a client is not draining its queue
var ErrSendQueueFull = errors.New("client send buffer full")

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	Codec      string // "pcm" or "opus"
	SampleRate int
	Channels   int
	BitDepth   int
	BufferMs   int // sent to clients as server/settings buffer_ms
	Latency    int
	Frequency  float64
	EnableMDNS bool
	Clock      clockwork.Clock
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "snapsync-toneserver"
	}
	if c.Codec == "" {
		c.Codec = "pcm"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.BitDepth == 0 {
		c.BitDepth = 16
	}
	if c.BufferMs == 0 {
		c.BufferMs = 1000
	}
	if c.Frequency == 0 {
		c.Frequency = 440
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Server is a minimal snapsync server
type Server struct {
	config   Config
	serverID string

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	clients   map[string]*Client
	clientsMu sync.RWMutex

	clock      clockwork.Clock
	clockStart time.Time

	engine      *Engine
	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client is one connected player
type Client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	mu     sync.RWMutex
	State  string
	Volume int
	Muted  bool

	// []byte for audio, protocol.Message for JSON
	sendChan chan interface{}
}

// New creates a server; nothing listens until Start
func New(config Config) (*Server, error) {
	config.setDefaults()

	codec, err := audio.ParseCodec(config.Codec)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// local network deployments only
			CheckOrigin: func(r *http.Request) bool {
				if origin := r.Header.Get("Origin"); origin != "" {
					log.Debugf("Accepting WebSocket from origin: %s", origin)
				}
				return true
			},
		},
		clients:    make(map[string]*Client),
		clock:      config.Clock,
		clockStart: config.Clock.Now(),
		stopChan:   make(chan struct{}),
	}

	format := audio.Format{
		Codec:      codec,
		SampleRate: config.SampleRate,
		Channels:   config.Channels,
		BitDepth:   config.BitDepth,
	}
	s.engine, err = NewEngine(config.Clock, s.clockMicros, format, config.Frequency)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio engine: %w", err)
	}

	s.mux.HandleFunc(protocol.Path, s.handleWebSocket)
	return s, nil
}

// Handler serves the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server until Stop or an HTTP failure
func (s *Server) Start() error {
	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)

	s.startEngine()

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Warnf("Failed to start mDNS advertisement: %v", err)
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket server listening on %s%s", addr, protocol.Path)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case serverErr = <-errChan:
		log.Errorf("HTTP server error: %v", serverErr)
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.engine.Stop()
	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

func (s *Server) startEngine() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.Run()
	}()
}

// Stop asks Start to shut down
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientState returns the last state reported by client id
func (s *Server) ClientState(id string) (protocol.ClientState, bool) {
	s.clientsMu.RLock()
	client, ok := s.clients[id]
	s.clientsMu.RUnlock()
	if !ok {
		return protocol.ClientState{}, false
	}

	client.mu.RLock()
	defer client.mu.RUnlock()
	return protocol.ClientState{State: client.State, Volume: client.Volume, Muted: client.Muted}, true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shutdown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shutdown {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// readHello waits for client/hello and validates it
func readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}

	typ, payload, err := protocol.DecodeMessage(data)
	if err != nil {
		return hello, err
	}
	if typ != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, typ)
	}
	if err := json.Unmarshal(payload, &hello); err != nil {
		return hello, fmt.Errorf("invalid client hello: %w", err)
	}
	if hello.ClientID == "" || hello.Name == "" {
		return hello, fmt.Errorf("client hello missing id or name")
	}
	return hello, nil
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	hello, err := readHello(conn)
	if err != nil {
		log.Warnf("Handshake failed: %v", err)
		return
	}

	log.Printf("Client hello: %s (ID: %s, formats: %d)", hello.Name, hello.ClientID, len(hello.SupportedFormats))

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		State:    "idle",
		Volume:   100,
		sendChan: make(chan interface{}, sendQueueSize),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Warnf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		_ = conn.WriteJSON(protocol.Message{
			Type: typeServerError,
			Payload: map[string]string{
				"error":   "duplicate_client_id",
				"message": "Client ID already connected",
			},
		})
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)
		log.Printf("Client disconnected: %s", client.Name)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	for _, msg := range []protocol.Message{
		{Type: protocol.TypeServerHello, Payload: protocol.ServerHello{
			ServerID: s.serverID,
			Name:     s.config.Name,
			Version:  ProtocolVersion,
		}},
		{Type: protocol.TypeServerSettings, Payload: protocol.ServerSettings{
			BufferMs: s.config.BufferMs,
			Latency:  s.config.Latency,
			Volume:   client.Volume,
		}},
		{Type: protocol.TypeStreamStart, Payload: s.engine.StreamStart()},
	} {
		if err := client.send(msg); err != nil {
			log.Warnf("Error sending %s to %s: %v", msg.Type, client.Name, err)
			return
		}
	}

	// RemoveClient must run before sendChan closes
	s.engine.AddClient(client)
	defer s.engine.RemoveClient(client)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warnf("WebSocket error: %v", err)
			}
			return
		}

		if !s.handleClientMessage(client, data) {
			return
		}
	}
}

// clientWriter is the only goroutine writing to client.Conn after the handshake
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))

			var err error
			switch v := msg.(type) {
			case []byte:
				err = client.Conn.WriteMessage(websocket.BinaryMessage, v)
			default:
				err = client.Conn.WriteJSON(v)
			}
			if err != nil {
				log.Warnf("Write to %s failed: %v", client.Name, err)
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage returns false when the client is leaving
func (s *Server) handleClientMessage(client *Client, data []byte) bool {
	// stamp t2 before any parsing
	received := s.clockMicros()

	typ, payload, err := protocol.DecodeMessage(data)
	if err != nil {
		log.Warnf("Bad message from %s: %v", client.Name, err)
		return true
	}

	switch typ {
	case protocol.TypeClientTime:
		s.handleTimeSync(client, payload, received)

	case protocol.TypeClientState:
		var state protocol.ClientState
		if err := json.Unmarshal(payload, &state); err != nil {
			log.Warnf("Invalid client state from %s: %v", client.Name, err)
			return true
		}
		client.mu.Lock()
		client.State = state.State
		client.Volume = state.Volume
		client.Muted = state.Muted
		client.mu.Unlock()
		log.Printf("Client %s state: %s (vol: %d, muted: %v)", client.Name, state.State, state.Volume, state.Muted)

	case protocol.TypeClientGoodbye:
		var bye protocol.ClientGoodbye
		_ = json.Unmarshal(payload, &bye)
		log.Printf("Client %s leaving: %s", client.Name, bye.Reason)
		return false

	default:
		log.Debugf("Unknown message type from %s: %s", client.Name, typ)
	}
	return true
}

func (s *Server) handleTimeSync(client *Client, payload json.RawMessage, received int64) {
	var ct protocol.ClientTime
	if err := json.Unmarshal(payload, &ct); err != nil {
		log.Warnf("Invalid client time from %s: %v", client.Name, err)
		return
	}

	// t3 is the queue time, not the wire time
	resp := protocol.ServerTime{
		ClientTransmitted: ct.ClientTransmitted,
		ServerReceived:    received,
		ServerTransmitted: s.clockMicros(),
	}
	if err := client.send(protocol.Message{Type: protocol.TypeServerTime, Payload: resp}); err != nil {
		log.Debugf("Time sync response to %s dropped: %v", client.Name, err)
	}
}

// clockMicros is the server clock: microseconds since the server started
func (s *Server) clockMicros() int64 {
	return s.clock.Since(s.clockStart).Microseconds()
}

func (c *Client) send(msg protocol.Message) error {
	select {
	case c.sendChan <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) sendBinary(data []byte) error {
	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}
