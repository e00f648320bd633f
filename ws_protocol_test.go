package hmibox

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestEnvelopeHeader(t *testing.T) {
	t.Run("Roundtrip", func(t *testing.T) {
		env := EnvelopeHeader{
			Version: ProtocolVersion,
			Type:    MessageTypeSample,
			Length:  0xdeadbeef,
		}

		buf := EncodeEnvelopeHeader(env)
		if len(buf) != EnvelopeHeaderSize {
			t.Fatalf("expected %d byte header, got %d", EnvelopeHeaderSize, len(buf))
		}

		decoded, err := DecodeEnvelopeHeader(buf)
		if err != nil {
			t.Fatal(err)
		}
		if decoded != env {
			t.Fatalf("roundtrip mismatch: %+v != %+v", decoded, env)
		}
	})

	t.Run("ShortBuffer", func(t *testing.T) {
		_, err := DecodeEnvelopeHeader([]byte{1, 0, 0})
		if err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected short buffer error, got %v", err)
		}
	})
}

func TestSampleMessageCodec(t *testing.T) {
	t.Run("Roundtrip", func(t *testing.T) {
		msg := SampleMessage{X: 1.5, Ys: []float64{10, -20.25, 300}}
		buf := EncodeSampleMessage(msg)
		if want := 4 + 8 + 8*3; len(buf) != want {
			t.Fatalf("expected %d bytes, got %d", want, len(buf))
		}

		decoded, err := DecodeSampleMessage(buf)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(decoded, msg) {
			t.Fatalf("roundtrip mismatch: %+v != %+v", decoded, msg)
		}
	})

	t.Run("EmptyYs", func(t *testing.T) {
		buf := EncodeSampleMessage(SampleMessage{X: 42})
		decoded, err := DecodeSampleMessage(buf)
		if err != nil {
			t.Fatal(err)
		}
		if decoded.X != 42 || len(decoded.Ys) != 0 {
			t.Fatalf("unexpected decode: %+v", decoded)
		}
	})

	t.Run("ShortBuffer", func(t *testing.T) {
		_, err := DecodeSampleMessage([]byte{0, 0, 0})
		if err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected short buffer error, got %v", err)
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		buf := EncodeSampleMessage(SampleMessage{X: 1, Ys: []float64{2, 3}})
		_, err := DecodeSampleMessage(buf[:len(buf)-8])
		if err == nil || !strings.Contains(err.Error(), "size mismatch") {
			t.Fatalf("expected size mismatch error, got %v", err)
		}
	})
}

func TestMessageCodec(t *testing.T) {
	roundtrip := func(t *testing.T, msg Message) Message {
		t.Helper()

		buf, err := EncodeMessage(msg)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := DecodeMessage(buf)
		if err != nil {
			t.Fatal(err)
		}
		if decoded.Header.Version != ProtocolVersion {
			t.Fatalf("unexpected version: %d", decoded.Header.Version)
		}
		if decoded.Header.Type != msg.Header.Type {
			t.Fatalf("unexpected type: 0x%02x", decoded.Header.Type)
		}
		return decoded
	}

	t.Run("Sample", func(t *testing.T) {
		msg := NewMessage(MessageTypeSample, SampleMessage{X: 1, Ys: []float64{2, 3}})
		decoded := roundtrip(t, msg)
		if !reflect.DeepEqual(decoded.Payload, msg.Payload) {
			t.Fatalf("payload mismatch: %+v", decoded.Payload)
		}
	})

	t.Run("Metadata", func(t *testing.T) {
		metadata := Metadata{
			WindowSize:   10000,
			XIsTimestamp: true,
			Columns:      []string{"temp", "pressure"},
			TagBase:      "[default]Equipment",
			PlotLabels: PlotLabels{
				Title:  "Boiler",
				XLabel: "time",
				YLabel: "degC",
			},
		}
		decoded := roundtrip(t, NewMessage(MessageTypeMetadata, metadata))
		if !reflect.DeepEqual(decoded.Payload, metadata) {
			t.Fatalf("payload mismatch: %+v", decoded.Payload)
		}
	})

	t.Run("Analysis", func(t *testing.T) {
		analysis, err := Analyze([]Record{{"temp_1": 50.0}})
		if err != nil {
			t.Fatal(err)
		}

		decoded := roundtrip(t, NewMessage(MessageTypeAnalysis, analysis))
		got, ok := decoded.Payload.(Analysis)
		if !ok {
			t.Fatalf("unexpected payload type %T", decoded.Payload)
		}
		if len(got.Components) != 1 || got.Components[0].Type != "perspective.display" {
			t.Fatalf("unexpected analysis payload: %+v", got)
		}
	})

	t.Run("StreamEnd", func(t *testing.T) {
		streamEnd := StreamEndMessage{Error: true, Msg: "read failed"}
		decoded := roundtrip(t, NewMessage(MessageTypeStreamEnd, streamEnd))
		if !reflect.DeepEqual(decoded.Payload, streamEnd) {
			t.Fatalf("payload mismatch: %+v", decoded.Payload)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := EncodeMessage(NewMessage(0x7f, nil))
		if err == nil || !strings.Contains(err.Error(), "unknown message type") {
			t.Fatalf("expected unknown type error, got %v", err)
		}

		buf := EncodeEnvelopeHeader(EnvelopeHeader{Version: ProtocolVersion, Type: 0x7f})
		_, err = DecodeMessage(buf)
		if err == nil || !strings.Contains(err.Error(), "unknown message type") {
			t.Fatalf("expected unknown type error, got %v", err)
		}
	})

	t.Run("PayloadTypeMismatch", func(t *testing.T) {
		_, err := EncodeMessage(NewMessage(MessageTypeSample, "not a sample"))
		if err == nil || !strings.Contains(err.Error(), "payload type mismatch") {
			t.Fatalf("expected payload type mismatch, got %v", err)
		}
	})

	t.Run("OversizedLengthHeader", func(t *testing.T) {
		// A length near MaxUint32 must not wrap the size check and panic the
		// payload slicing.
		buf := EncodeEnvelopeHeader(EnvelopeHeader{
			Version: ProtocolVersion,
			Type:    MessageTypeSample,
			Length:  math.MaxUint32,
		})
		_, err := DecodeMessage(buf)
		if err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected short buffer error, got %v", err)
		}
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		buf, err := EncodeMessage(NewMessage(MessageTypeStreamEnd, StreamEndMessage{}))
		if err != nil {
			t.Fatal(err)
		}
		_, err = DecodeMessage(buf[:len(buf)-1])
		if err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected short buffer error, got %v", err)
		}
	})
}
