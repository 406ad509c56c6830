// Package dashboard provides a real-time WebSocket view of sync activity.
//
// The server broadcasts cycle summaries, journal statistics, and engine
// status changes to connected WebSocket clients, so sync health is
// observable without tailing the daemon log.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeCycle carries the aggregate summary of one sync cycle.
	MessageTypeCycle MessageType = "cycle"

	// MessageTypeStats carries cumulative journal and session statistics.
	MessageTypeStats MessageType = "stats"

	// MessageTypeStatus carries engine lifecycle changes (started, stopped).
	MessageTypeStatus MessageType = "status"
)

// Message is one dashboard broadcast.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusData describes an engine lifecycle change.
type StatusData struct {
	State string `json:"state"` // started, stopped
}

// sendQueueSize bounds each client's outbound queue. A client that falls
// this far behind starts losing messages rather than stalling the rest.
const sendQueueSize = 16

// writeTimeout bounds one WebSocket write.
const writeTimeout = 5 * time.Second

// client is one connected WebSocket subscriber with its own outbound queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server manages WebSocket connections and broadcasts dashboard messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 7891).
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   7891,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard WebSocket server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		s.unregister(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Broadcast queues a message for every connected client. Never blocks; the
// message is dropped if the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop fans queued messages out into the per-client send queues.
// A client whose queue is full loses the message; one slow subscriber never
// delays the others.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			for c := range s.clients {
				select {
				case c.send <- data:
				default:
					s.logger.Println("Warning: client queue full, dropping message")
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket and registers the
// client's queue worker.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}

	// The welcome goes through the queue like everything else; a fresh
	// queue always has room.
	if welcome := s.welcomeMessage(); welcome != nil {
		c.send <- welcome
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	s.wg.Add(1)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// welcomeMessage builds the greeting sent to a newly connected client.
func (s *Server) welcomeMessage() []byte {
	data, err := json.Marshal(StatusData{State: "connected"})
	if err != nil {
		return nil
	}
	out, err := json.Marshal(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		return nil
	}
	return out
}

// writeLoop drains one client's send queue onto its connection.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()

			if err != nil {
				s.logger.Printf("Failed to send to client: %v", err)
				s.unregister(c)
				return
			}
		}
	}
}

// readLoop keeps the connection alive and detects client disconnects. Client
// messages are not processed.
func (s *Server) readLoop(c *client) {
	defer s.unregister(c)

	for {
		_, _, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

// unregister removes a client, stops its queue worker, and closes the
// connection. Safe to call more than once per client.
func (s *Server) unregister(c *client) {
	s.clientsMu.Lock()
	if _, exists := s.clients[c]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	close(c.done)
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Tasklink Dashboard</title>
</head>
<body>
    <h1>Tasklink Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive sync cycle summaries.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
