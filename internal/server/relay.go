package server

import (
	"encoding/json"
)

// Relay forwards a negotiation payload to the connection named by its
// target field. Payloads for connections that are gone are dropped.
func (s *Server) Relay(c Conn, event string, data json.RawMessage) error {
	var st signalTarget
	if err := json.Unmarshal(data, &st); err != nil || st.Target == "" {
		return validationError("target is required")
	}

	payload := data
	if event == EventIceCandidate {
		stamped, err := stampSender(data, c.ID())
		if err != nil {
			return validationError("invalid message format")
		}
		payload = stamped
	}

	dst, ok := s.conns.get(st.Target)
	if !ok {
		s.log.Debug().Str("event", event).Str("conn", c.ID()).Str("target", st.Target).Msg("relay target gone")
		return nil
	}
	dst.Send(newEvent(event, payload))
	return nil
}

// stampSender sets the sender field of a JSON object payload.
func stampSender(data json.RawMessage, sender string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sender)
	if err != nil {
		return nil, err
	}
	fields["sender"] = raw
	return json.Marshal(fields)
}
