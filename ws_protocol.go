package hmibox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Binary websocket protocol: every message is an 8-byte envelope followed by
// a payload. SAMPLE payloads are packed float64s; the other payloads are
// length-prefixed JSON. All integers are little-endian.
const (
	ProtocolVersion byte = 1

	MessageTypeSample    byte = 0x01
	MessageTypeMetadata  byte = 0x02
	MessageTypeStreamEnd byte = 0x03
	MessageTypeAnalysis  byte = 0x04

	EnvelopeHeaderSize = 8
)

// EnvelopeHeader is the fixed-size message header.
type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte
	Type     byte
	Length   uint32 // payload length in bytes
}

// SampleMessage is one sample row on the wire (type 0x01).
type SampleMessage struct {
	X  float64
	Ys []float64
}

// StreamEndMessage tells clients the input stream is over (type 0x03).
type StreamEndMessage struct {
	Error bool
	Msg   string
}

// Message is a decoded websocket message. Payload is one of SampleMessage,
// Metadata, Analysis or StreamEndMessage according to Header.Type.
type Message struct {
	Header  EnvelopeHeader
	Payload interface{}
}

func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	env := EnvelopeHeader{
		Version: buf[0],
		Type:    buf[3],
		Length:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	env.Reserved[0] = buf[1]
	env.Reserved[1] = buf[2]

	return env, nil
}

// EncodeSampleMessage packs a sample as: Length(4) + X(8) + Ys(8 each).
// Length is the number of y values.
func EncodeSampleMessage(msg SampleMessage) []byte {
	buf := make([]byte, 4+8+8*len(msg.Ys))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(msg.Ys)))
	binary.LittleEndian.PutUint64(buf[4:12], math.Float64bits(msg.X))

	offset := 12
	for _, y := range msg.Ys {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(y))
		offset += 8
	}

	return buf
}

func DecodeSampleMessage(buf []byte) (SampleMessage, error) {
	if len(buf) < 12 {
		return SampleMessage{}, fmt.Errorf("buffer too short for SAMPLE message: expected at least 12 bytes, got %d", len(buf))
	}

	count := binary.LittleEndian.Uint32(buf[0:4])
	expectedSize := 12 + 8*count
	if uint32(len(buf)) != expectedSize {
		return SampleMessage{}, fmt.Errorf("buffer size mismatch: expected %d bytes for %d ys, got %d", expectedSize, count, len(buf))
	}

	msg := SampleMessage{
		X:  math.Float64frombits(binary.LittleEndian.Uint64(buf[4:12])),
		Ys: make([]float64, count),
	}

	offset := 12
	for i := uint32(0); i < count; i++ {
		msg.Ys[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8]))
		offset += 8
	}

	return msg, nil
}

// encodeJSONPayload produces the payload form shared by the METADATA,
// ANALYSIS and STREAM_END messages: JSON length (4 bytes) + JSON data.
func encodeJSONPayload(v any) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	buf := make([]byte, 4+len(jsonData))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(jsonData)))
	copy(buf[4:], jsonData)

	return buf, nil
}

func decodeJSONPayload(buf []byte, v any) error {
	if len(buf) < 4 {
		return fmt.Errorf("buffer too short for JSON payload: expected at least 4 bytes, got %d", len(buf))
	}

	jsonLength := binary.LittleEndian.Uint32(buf[0:4])
	expectedSize := 4 + jsonLength
	if uint32(len(buf)) != expectedSize {
		return fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	if err := json.Unmarshal(buf[4:], v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return nil
}

// EncodeMessage encodes a Message into a complete wire message. The header
// length field is filled in from the actual payload size.
func EncodeMessage(msg Message) ([]byte, error) {
	var payload []byte
	var err error

	switch msg.Header.Type {
	case MessageTypeSample:
		sample, ok := msg.Payload.(SampleMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected SampleMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload = EncodeSampleMessage(sample)
	case MessageTypeMetadata:
		metadata, ok := msg.Payload.(Metadata)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Metadata for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = encodeJSONPayload(metadata)
	case MessageTypeAnalysis:
		analysis, ok := msg.Payload.(Analysis)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Analysis for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = encodeJSONPayload(analysis)
	case MessageTypeStreamEnd:
		streamEnd, ok := msg.Payload.(StreamEndMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected StreamEndMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = encodeJSONPayload(streamEnd)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}
	if err != nil {
		return nil, err
	}

	msg.Header.Length = uint32(len(payload))
	header := EncodeEnvelopeHeader(msg.Header)

	fullMsg := make([]byte, len(header)+len(payload))
	copy(fullMsg, header)
	copy(fullMsg[len(header):], payload)

	return fullMsg, nil
}

// DecodeMessage decodes a complete wire message (envelope + payload).
func DecodeMessage(buf []byte) (Message, error) {
	env, err := DecodeEnvelopeHeader(buf)
	if err != nil {
		return Message{}, err
	}

	// Compared without adding to env.Length: a crafted length near MaxUint32
	// must not wrap the expected size small.
	if uint64(env.Length) > uint64(len(buf)-EnvelopeHeaderSize) {
		return Message{}, fmt.Errorf("buffer too short: expected %d payload bytes after the header, got %d", env.Length, len(buf)-EnvelopeHeaderSize)
	}

	payloadBytes := buf[EnvelopeHeaderSize : EnvelopeHeaderSize+env.Length]

	var payload interface{}
	switch env.Type {
	case MessageTypeSample:
		sample, err := DecodeSampleMessage(payloadBytes)
		if err != nil {
			return Message{}, err
		}
		payload = sample
	case MessageTypeMetadata:
		var metadata Metadata
		if err := decodeJSONPayload(payloadBytes, &metadata); err != nil {
			return Message{}, err
		}
		payload = metadata
	case MessageTypeAnalysis:
		var analysis Analysis
		if err := decodeJSONPayload(payloadBytes, &analysis); err != nil {
			return Message{}, err
		}
		payload = analysis
	case MessageTypeStreamEnd:
		var streamEnd StreamEndMessage
		if err := decodeJSONPayload(payloadBytes, &streamEnd); err != nil {
			return Message{}, err
		}
		payload = streamEnd
	default:
		return Message{}, fmt.Errorf("unknown message type: 0x%02x", env.Type)
	}

	return Message{
		Header:  env,
		Payload: payload,
	}, nil
}

// NewMessage builds a Message with the current protocol version.
func NewMessage(msgType byte, payload interface{}) Message {
	return Message{
		Header: EnvelopeHeader{
			Version: ProtocolVersion,
			Type:    msgType,
		},
		Payload: payload,
	}
}
