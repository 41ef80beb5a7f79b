// Package relay mirrors room broadcasts onto NATS so external consumers
// (dashboards, audit tooling) can observe a session without holding a
// websocket into the coordinator. Egress only: this process stays the single
// authority over poll state.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/pollroom/pollroom/internal/gateway"
)

// SubjectPrefix is the root of the relayed subject space; events for a room
// land on "<prefix>.<room>".
const SubjectPrefix = "pollroom.events"

// NATSRelay publishes every room broadcast to NATS.
type NATSRelay struct {
	nc *nats.Conn
}

// Connect dials NATS with the reconnect behavior used throughout this
// codebase and returns a relay ready to plug into the connection manager.
func Connect(url string) (*NATSRelay, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSRelay{nc: nc}, nil
}

// Publish mirrors one room broadcast. Relay failures are logged, never
// propagated: the websocket fanout must not depend on the bus being up.
func (r *NATSRelay) Publish(room string, event *gateway.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal relayed event")
		return
	}
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, room)
	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to relay event")
	}
}

// Close drains and closes the NATS connection.
func (r *NATSRelay) Close() {
	if err := r.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
