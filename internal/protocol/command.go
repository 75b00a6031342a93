// Package protocol defines the websocket wire format: inbound commands,
// the operation tagged union, and every outbound event payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Action is the closed set of inbound command verbs.
type Action string

const (
	ActionGetStatus Action = "get_status"
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionPing      Action = "ping"
)

// StartPayload carries the parameters of a start command.
type StartPayload struct {
	Operations []Operation `json:"operaciones"`
	NumWorkers int         `json:"num_workers"`
}

// Command is one decoded inbound frame. Start is populated only when
// Action is ActionStart.
type Command struct {
	Action Action
	Start  StartPayload
}

// ParseCommand decodes a client frame. Malformed JSON and unknown actions
// return an error; the hub ignores such frames without replying.
func ParseCommand(data []byte) (Command, error) {
	var raw struct {
		Action Action          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, err
	}

	cmd := Command{Action: raw.Action}
	switch raw.Action {
	case ActionStart:
		if len(raw.Data) > 0 && string(raw.Data) != "null" {
			if err := json.Unmarshal(raw.Data, &cmd.Start); err != nil {
				return Command{}, err
			}
		}
		if len(cmd.Start.Operations) == 0 {
			cmd.Start.Operations = DefaultOperations()
		}
	case ActionGetStatus, ActionStop, ActionPing:
	default:
		return Command{}, fmt.Errorf("unknown action %q", raw.Action)
	}
	return cmd, nil
}
