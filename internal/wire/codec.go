package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedFrame wraps any frame the codec could not parse into the
// wire grammar: unparseable JSON/CBOR, an unknown message type, or a
// missing required field.
var ErrMalformedFrame = errors.New("malformed frame")

// cborDecMode decodes CBOR maps into map[string]any (fxamacker/cbor's
// default is map[any]any, which would force every caller to type-switch on
// the key too) so that CBOR and JSON decoding produce the same Go shape.
var cborDecMode = mustCBORDecMode()

func mustCBORDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// DecodeInbound parses one inbound frame into the message grammar. When
// binary is true the frame is CBOR; otherwise it is JSON text.
func DecodeInbound(frame []byte, binary bool) (Inbound, error) {
	if binary {
		return decodeInboundCBOR(frame)
	}
	return decodeInboundJSON(frame)
}

// EncodeOutbound renders msg into the message grammar, in CBOR when
// binary is true, JSON text otherwise.
func EncodeOutbound(msg Outbound, binary bool) ([]byte, error) {
	if binary {
		return encodeOutboundCBOR(msg)
	}
	return encodeOutboundJSON(msg)
}

func validInboundType(t string) bool {
	switch t {
	case TypeSubscribe, TypeGet, TypePush, TypePing:
		return true
	default:
		return false
	}
}

// validateRequiredFields enforces the "missing required field" malformed
// frame case across both encodings.
func validateRequiredFields(in Inbound) error {
	switch in.Type {
	case TypeSubscribe, TypeGet, TypePush:
		if in.Key == "" {
			return fmt.Errorf("%w: missing key", ErrMalformedFrame)
		}
	}
	if in.Type == TypePush {
		switch in.Action.Type {
		case ActionAppend, ActionCompact:
		default:
			return fmt.Errorf("%w: unknown push action %q", ErrMalformedFrame, in.Action.Type)
		}
	}
	return nil
}

// --- JSON ---

type jsonAction struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

type jsonInbound struct {
	Type   string          `json:"type"`
	Key    string          `json:"key,omitempty"`
	Seq    *uint64         `json:"seq,omitempty"`
	Action *jsonAction     `json:"action,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Nonce  string          `json:"nonce,omitempty"`
}

func decodeInboundJSON(frame []byte) (Inbound, error) {
	var w jsonInbound
	if err := json.Unmarshal(frame, &w); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !validInboundType(w.Type) {
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, w.Type)
	}

	in := Inbound{Type: w.Type, Key: w.Key, Seq: w.Seq, Nonce: w.Nonce}
	if w.Action != nil {
		in.Action = Action{Type: w.Action.Type, Seq: w.Action.Seq}
	}
	if len(w.Value) > 0 {
		var v any
		if err := json.Unmarshal(w.Value, &v); err != nil {
			return Inbound{}, fmt.Errorf("%w: bad value: %v", ErrMalformedFrame, err)
		}
		in.Value = unescapeBinary(v)
	}
	if err := validateRequiredFields(in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

func encodeOutboundJSON(msg Outbound) ([]byte, error) {
	return json.Marshal(outboundWireObject(msg, escapeBinary))
}

// outboundWireObject builds the on-wire field set for msg, applying
// encodeValue to every payload so JSON and CBOR can share this one
// type-switch on msg.Type.
func outboundWireObject(msg Outbound, encodeValue func(any) any) map[string]any {
	obj := map[string]any{"type": msg.Type}
	if msg.Key != "" {
		obj["key"] = msg.Key
	}
	switch msg.Type {
	case TypeInit:
		entries := make([]map[string]any, len(msg.Data))
		for i, e := range msg.Data {
			entries[i] = map[string]any{"seq": e.Seq, "value": encodeValue(e.Value)}
		}
		obj["data"] = entries
		if msg.HasSeq {
			obj["seq"] = msg.Seq
		}
	case TypeOutPush:
		obj["value"] = encodeValue(msg.Value)
		obj["seq"] = msg.Seq
	case TypeStreamSize:
		obj["size"] = msg.Size
	case TypePong:
		obj["nonce"] = msg.Nonce
	case TypeError:
		obj["message"] = msg.Message
	}
	return obj
}

// unescapeBinary walks a decoded JSON value tree and replaces any
// single-key {"base64": "..."} object with the decoded []byte it encodes.
func unescapeBinary(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if b64, ok := t["base64"].(string); ok {
				if decoded, err := base64.StdEncoding.DecodeString(b64); err == nil {
					return decoded
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = unescapeBinary(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = unescapeBinary(vv)
		}
		return out
	default:
		return v
	}
}

// escapeBinary is unescapeBinary's inverse, applied when rendering a value
// tree to JSON text.
func escapeBinary(v any) any {
	switch t := v.(type) {
	case []byte:
		return map[string]any{"base64": base64.StdEncoding.EncodeToString(t)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = escapeBinary(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = escapeBinary(vv)
		}
		return out
	default:
		return v
	}
}

// identityValue leaves a value tree untouched; used for CBOR, whose byte
// strings are already native (no escape object needed).
func identityValue(v any) any { return v }

// --- CBOR ---

type cborAction struct {
	Type string `cbor:"type"`
	Seq  uint64 `cbor:"seq,omitempty"`
}

type cborInbound struct {
	Type   string      `cbor:"type"`
	Key    string      `cbor:"key,omitempty"`
	Seq    *uint64     `cbor:"seq,omitempty"`
	Action *cborAction `cbor:"action,omitempty"`
	Value  any         `cbor:"value,omitempty"`
	Nonce  string      `cbor:"nonce,omitempty"`
}

func decodeInboundCBOR(frame []byte) (Inbound, error) {
	var w cborInbound
	if err := cborDecMode.Unmarshal(frame, &w); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !validInboundType(w.Type) {
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, w.Type)
	}

	in := Inbound{Type: w.Type, Key: w.Key, Seq: w.Seq, Nonce: w.Nonce, Value: w.Value}
	if w.Action != nil {
		in.Action = Action{Type: w.Action.Type, Seq: w.Action.Seq}
	}
	if err := validateRequiredFields(in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

func encodeOutboundCBOR(msg Outbound) ([]byte, error) {
	return cbor.Marshal(outboundWireObject(msg, identityValue))
}
