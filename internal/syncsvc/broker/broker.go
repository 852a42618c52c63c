package broker

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-games/conclave-services/internal/syncsvc/game"
	"github.com/conclave-games/conclave-services/pkg/protocol"
)

const subjectPrefix = "game.events."

// envelope is the relay frame: the encoded protocol event plus the id of
// the instance that produced it, so an instance can skip its own messages.
type envelope struct {
	InstanceId string          `json:"instanceid"`
	GameId     uuid.UUID       `json:"gameid"`
	Event      json.RawMessage `json:"event"`
}

// Broker keeps the one-game-one-channel model across service instances.
// Every local broadcast also goes to NATS subject game.events.<gameId>;
// events arriving from other instances are delivered to the local hub only,
// never republished.
type Broker struct {
	conn       *nats.Conn
	local      game.Broadcaster
	instanceId string
}

func NewBroker(conn *nats.Conn, local game.Broadcaster, instanceId string) *Broker {
	return &Broker{conn: conn, local: local, instanceId: instanceId}
}

// Broadcast satisfies game.Broadcaster for the engine.
func (b *Broker) Broadcast(gameID uuid.UUID, event protocol.ServerEvent) {
	b.local.Broadcast(gameID, event)

	frame, err := protocol.EncodeEvent(event)
	if err != nil {
		log.Errorf("failed to encode %s event for relay: %v", event.EventType(), err)
		return
	}
	payload, err := json.Marshal(envelope{
		InstanceId: b.instanceId,
		GameId:     gameID,
		Event:      frame,
	})
	if err != nil {
		log.Errorf("failed to marshal relay envelope: %v", err)
		return
	}
	if err := b.conn.Publish(subjectPrefix+gameID.String(), payload); err != nil {
		log.Errorf("Error publishing to topic %s: %s", subjectPrefix+gameID.String(), err)
	}
}

// Subscribe starts consuming relayed events from every other instance.
func (b *Broker) Subscribe() (*nats.Subscription, error) {
	return b.conn.Subscribe(subjectPrefix+">", b.handleMessage)
}

func (b *Broker) handleMessage(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Errorf("Error %s", err)
		return
	}
	if env.InstanceId == b.instanceId {
		return // our own broadcast, already delivered locally
	}
	event, err := protocol.DecodeEvent(env.Event)
	if err != nil {
		log.Errorf("undecodable relayed event on %s: %v", msg.Subject, err)
		return
	}
	b.local.Broadcast(env.GameId, event)
}
