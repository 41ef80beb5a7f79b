package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// InboundHandler receives raw inbound frames and transport-level disconnects.
type InboundHandler interface {
	HandleEvent(connID string, raw []byte)
	HandleDisconnect(connID string)
}

// Sink receives a copy of every room broadcast, for mirroring events outside
// the process (e.g. onto a message bus). Optional.
type Sink interface {
	Publish(room string, event *Event)
}

// ConnectionManager owns every live WebSocket connection and fans outbound
// events out to room subscribers. A connection belongs to no room until the
// coordinator places it in one on a successful join.
type ConnectionManager struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	roomConns map[string]map[*Connection]bool
	connRoom  map[string]string

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  InboundHandler
	sink     Sink

	broadcastCh chan broadcastMessage
}

// Connection represents one WebSocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	manager *ConnectionManager

	ConnectedAt time.Time
	closeOnce   sync.Once
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	room   string
	connID string // if set, only this connection
	event  *Event
}

// DefaultConnectionConfig returns sane defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a manager; SetHandler must be called before
// serving connections.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns:     make(map[string]*Connection),
		roomConns: make(map[string]map[*Connection]bool),
		connRoom:  make(map[string]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetHandler wires the inbound event handler.
func (cm *ConnectionManager) SetHandler(h InboundHandler) { cm.handler = h }

// SetSink wires an optional broadcast mirror.
func (cm *ConnectionManager) SetSink(s Sink) { cm.sink = s }

// Start processes broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.conns[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("conn_id", connection.ID).Msg("websocket connection established")
	return nil
}

// JoinRoom places a connection into a room's fanout group, leaving any
// previous one.
func (cm *ConnectionManager) JoinRoom(connID, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.conns[connID]
	if !ok {
		return
	}
	if prev, ok := cm.connRoom[connID]; ok {
		cm.removeFromRoomLocked(conn, prev)
	}
	if cm.roomConns[room] == nil {
		cm.roomConns[room] = make(map[*Connection]bool)
	}
	cm.roomConns[room][conn] = true
	cm.connRoom[connID] = room
}

// ToRoom queues an event for every connection in a room.
func (cm *ConnectionManager) ToRoom(room string, event *Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{room: room, event: event}:
	default:
		log.Warn().Str("room", room).Str("type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// ToConn queues an event for a single connection.
func (cm *ConnectionManager) ToConn(connID string, event *Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{connID: connID, event: event}:
	default:
		log.Warn().Str("conn_id", connID).Str("type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// Disconnect force-closes a connection.
func (cm *ConnectionManager) Disconnect(connID string) {
	cm.mu.RLock()
	conn, ok := cm.conns[connID]
	cm.mu.RUnlock()
	if ok {
		conn.close()
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.connID != "" {
		if conn, ok := cm.conns[message.connID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.roomConns[message.room] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Slow or dead client; drop it rather than stall the room.
			log.Warn().Str("conn_id", conn.ID).Msg("send buffer full, closing connection")
			conn.close()
		}
	}

	if message.connID == "" && cm.sink != nil {
		cm.sink.Publish(message.room, message.event)
	}
}

// unregister removes a connection from all tables and notifies the handler.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	if _, ok := cm.conns[conn.ID]; !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.conns, conn.ID)
	if room, ok := cm.connRoom[conn.ID]; ok {
		cm.removeFromRoomLocked(conn, room)
	}
	close(conn.Send)
	cm.mu.Unlock()

	log.Info().Str("conn_id", conn.ID).Msg("connection unregistered")
	if cm.handler != nil {
		cm.handler.HandleDisconnect(conn.ID)
	}
}

func (cm *ConnectionManager) removeFromRoomLocked(conn *Connection, room string) {
	delete(cm.connRoom, conn.ID)
	if members, ok := cm.roomConns[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(cm.roomConns, room)
		}
	}
}

// ConnectionCount reports the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		if c.manager.handler != nil {
			c.manager.handler.HandleEvent(c.ID, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
