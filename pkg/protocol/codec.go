package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// One JSON object per UTF-8 text frame. A frame that fails to decode must
// never terminate the connection; callers turn the returned error into a
// local error event instead.

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownEvent  = errors.New("unknown event type")
)

func DecodeAction(data []byte) (ClientAction, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var (
		action ClientAction
		err    error
	)
	switch env.Action {
	case ActionUpdateLife:
		var a UpdateLifeAction
		err = json.Unmarshal(data, &a)
		action = a
	case ActionLeaveGame:
		var a LeaveGameAction
		err = json.Unmarshal(data, &a)
		action = a
	case ActionGetGameState:
		action = GetGameStateAction{}
	case ActionEndGame:
		action = EndGameAction{}
	case ActionSetCommanderDamage:
		var a SetCommanderDamageAction
		err = json.Unmarshal(data, &a)
		action = a
	case ActionUpdateCommanderDamage:
		var a UpdateCommanderDamageAction
		err = json.Unmarshal(data, &a)
		action = a
	case ActionTogglePartner:
		var a TogglePartnerAction
		err = json.Unmarshal(data, &a)
		action = a
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", env.Action, err)
	}
	return action, nil
}

func EncodeAction(a ClientAction) ([]byte, error) {
	return encodeTagged("action", a.ActionType(), a)
}

func DecodeEvent(data []byte) (ServerEvent, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var (
		event ServerEvent
		err   error
	)
	switch env.Type {
	case EventLifeUpdate:
		var e LifeUpdateEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventPlayerJoined:
		var e PlayerJoinedEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventPlayerLeft:
		var e PlayerLeftEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventGameStarted:
		var e GameStartedEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventGameEnded:
		var e GameEndedEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventCommanderDamageUpdate:
		var e CommanderDamageUpdateEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventPartnerToggled:
		var e PartnerToggledEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		event = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", env.Type, err)
	}
	return event, nil
}

func EncodeEvent(e ServerEvent) ([]byte, error) {
	return encodeTagged("type", e.EventType(), e)
}

// encodeTagged splices the discriminant into the marshalled body so variant
// structs stay free of tag bookkeeping.
func encodeTagged(tagField, tag string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(map[string]string{tagField: tag})
	if err != nil {
		return nil, err
	}
	if len(body) <= 2 { // empty object
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}
