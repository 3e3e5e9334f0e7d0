package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodeInboundJSONSubscribe(t *testing.T) {
	frame := []byte(`{"type":"subscribe","key":"chat","seq":3}`)
	in, err := DecodeInbound(frame, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Type != TypeSubscribe || in.Key != "chat" {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.Seq == nil || *in.Seq != 3 {
		t.Fatalf("expected seq 3, got %v", in.Seq)
	}
}

func TestDecodeInboundRejectsUnknownType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"teleport"}`), false)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeInboundRejectsMissingKey(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"get"}`), false)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for missing key, got %v", err)
	}
}

func TestDecodeInboundRejectsUnknownPushAction(t *testing.T) {
	frame := []byte(`{"type":"push","key":"chat","action":{"type":"teleport"}}`)
	_, err := DecodeInbound(frame, false)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for unknown push action, got %v", err)
	}
}

func TestDecodeInboundRejectsGarbage(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json`), false)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for unparsable input, got %v", err)
	}
}

func TestEscapeBinaryThenUnescapeBinaryRoundTrips(t *testing.T) {
	original := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	escaped := escapeBinary(original)
	obj, ok := escaped.(map[string]any)
	if !ok || len(obj) != 1 {
		t.Fatalf("expected a single-key base64 escape object, got %#v", escaped)
	}

	back := unescapeBinary(escaped)
	b, ok := back.([]byte)
	if !ok {
		t.Fatalf("expected []byte after unescaping, got %T", back)
	}
	if string(b) != string(original) {
		t.Fatalf("round trip mismatch: got %v, want %v", b, original)
	}
}

func TestEscapeBinaryWalksNestedContainers(t *testing.T) {
	tree := map[string]any{
		"payload": []any{[]byte{0x01, 0x02}, "text"},
	}
	escaped := escapeBinary(tree)
	back := unescapeBinary(escaped)

	outer, ok := back.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", back)
	}
	list, ok := outer["payload"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("unexpected payload shape: %#v", outer["payload"])
	}
	b, ok := list[0].([]byte)
	if !ok || len(b) != 2 {
		t.Fatalf("expected the byte slice to survive the round trip, got %#v", list[0])
	}
}

func TestJSONPushFrameWithBase64ValueDecodesToBytes(t *testing.T) {
	frame := []byte(`{"type":"push","key":"chat","action":{"type":"append"},"value":{"base64":"3q2+7w=="}}`)
	in, err := DecodeInbound(frame, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := in.Value.([]byte)
	if !ok {
		t.Fatalf("expected []byte, got %T", in.Value)
	}
	if string(b) != string([]byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("unexpected decoded bytes: %v", b)
	}
}

func TestEncodeOutboundJSONPushEscapesBinaryValue(t *testing.T) {
	out := Push("chat", 1, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	frame, err := EncodeOutbound(out, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unexpected error unmarshaling frame: %v", err)
	}
	value, ok := decoded["value"].(map[string]any)
	if !ok {
		t.Fatalf("expected value to be a base64 escape object, got %#v", decoded["value"])
	}
	if _, ok := value["base64"]; !ok {
		t.Fatalf("expected a base64 key, got %#v", value)
	}
}

func TestEncodeOutboundInitAlwaysHasDataArray(t *testing.T) {
	out := Init("chat", []SequenceEntry{}, nil)
	frame, err := EncodeOutbound(out, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(frame), `"data":[]`) {
		t.Fatalf("expected an explicit empty data array, got %s", frame)
	}
}

func TestCBORPushRoundTripsBinaryNatively(t *testing.T) {
	frame, err := cbor.Marshal(cborInbound{
		Type:   TypePush,
		Key:    "chat",
		Action: &cborAction{Type: ActionAppend},
		Value:  []byte{0x01, 0x02, 0x03},
	})
	if err != nil {
		t.Fatalf("unexpected error building cbor frame: %v", err)
	}

	in, err := DecodeInbound(frame, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := in.Value.([]byte)
	if !ok {
		t.Fatalf("expected []byte, got %T", in.Value)
	}
	if len(b) != 3 {
		t.Fatalf("unexpected cbor byte value: %v", b)
	}
}

func TestCBORDecodeMapShapeMatchesJSON(t *testing.T) {
	frame, err := cbor.Marshal(cborInbound{
		Type:   TypePush,
		Key:    "chat",
		Action: &cborAction{Type: ActionAppend},
		Value:  map[string]any{"nested": "value"},
	})
	if err != nil {
		t.Fatalf("unexpected error building cbor frame: %v", err)
	}

	in, err := DecodeInbound(frame, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := in.Value.(map[string]any); !ok {
		t.Fatalf("expected map[string]any, got %T", in.Value)
	}
}
