package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
)

// engine.io v3 packet types, first byte of every websocket text frame.
const (
	enginePacketOpen    = '0'
	enginePacketClose   = '1'
	enginePacketPing    = '2'
	enginePacketPong    = '3'
	enginePacketMessage = '4'
)

// socket.io packet types, second byte of message frames.
const (
	socketPacketConnect    = '0'
	socketPacketDisconnect = '1'
	socketPacketEvent      = '2'
	socketPacketAck        = '3'
	socketPacketError      = '4'
)

type frameKind int

const (
	frameIgnore frameKind = iota
	frameOpen
	frameClose
	framePing
	framePong
	frameConnect
	frameDisconnect
	frameEvent
	frameError
)

// handshake is the JSON body of the engine.io open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // milliseconds
	PingTimeout  int    `json:"pingTimeout"`  // milliseconds
}

// eventPacket is a decoded socket.io event: a name and its raw JSON
// arguments.
type eventPacket struct {
	Name string
	Args []json.RawMessage
}

// decodeFrame classifies one websocket text frame and returns the
// payload that follows the type byte(s).
func decodeFrame(data []byte) (frameKind, []byte) {
	if len(data) == 0 {
		return frameIgnore, nil
	}
	switch data[0] {
	case enginePacketOpen:
		return frameOpen, data[1:]
	case enginePacketClose:
		return frameClose, nil
	case enginePacketPing:
		return framePing, data[1:]
	case enginePacketPong:
		return framePong, data[1:]
	case enginePacketMessage:
		if len(data) < 2 {
			return frameIgnore, nil
		}
		switch data[1] {
		case socketPacketConnect:
			return frameConnect, data[2:]
		case socketPacketDisconnect:
			return frameDisconnect, nil
		case socketPacketEvent:
			return frameEvent, data[2:]
		case socketPacketError:
			return frameError, data[2:]
		case socketPacketAck:
			return frameIgnore, nil
		}
	}
	return frameIgnore, nil
}

// decodeEvent parses an event body: an optional ack id (digits) and a
// JSON array whose first element is the event name.
func decodeEvent(body []byte) (*eventPacket, error) {
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body[i:], &elements); err != nil {
		return nil, fmt.Errorf("malformed event body: %w", err)
	}
	if len(elements) == 0 {
		return nil, errors.New("empty event body")
	}

	var name string
	if err := json.Unmarshal(elements[0], &name); err != nil {
		return nil, fmt.Errorf("event name is not a string: %w", err)
	}

	return &eventPacket{Name: name, Args: elements[1:]}, nil
}

// encodeEvent builds the wire frame for an outbound event.
func encodeEvent(name string, args ...any) ([]byte, error) {
	elements := make([]any, 0, len(args)+1)
	elements = append(elements, name)
	elements = append(elements, args...)

	body, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", name, err)
	}

	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, enginePacketMessage, socketPacketEvent)
	frame = append(frame, body...)
	return frame, nil
}

func decodeHandshake(body []byte) (handshake, error) {
	var hs handshake
	if err := json.Unmarshal(body, &hs); err != nil {
		return hs, fmt.Errorf("malformed open packet: %w", err)
	}
	return hs, nil
}
