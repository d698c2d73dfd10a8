/*
Package serialize converts WAMP messages to and from the encodings carried by
a transport: JSON, MessagePack and CBOR.

All three share the same shape.  A message is encoded as a positional list
whose first element is the message type and whose remaining elements are the
message struct fields in declaration order.  Trailing fields tagged
`wamp:"omitempty"` are left off when empty.
*/
package serialize

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ugorji/go/codec"

	"github.com/crossbario/crossbar/wamp"
)

const (
	// Use JSON-encoded strings as a payload.
	JSON Serialization = iota
	// Use msgpack-encoded strings as a payload.
	MSGPACK
	// Use CBOR encoding as a payload
	CBOR
)

// Serialization indicates the data serialization format used in a WAMP session
type Serialization int

func (s Serialization) String() string {
	switch s {
	case JSON:
		return "json"
	case MSGPACK:
		return "msgpack"
	case CBOR:
		return "cbor"
	}
	return fmt.Sprintf("Serialization(%d)", int(s))
}

// ParseSerialization returns the Serialization named by s.
func ParseSerialization(s string) (Serialization, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MSGPACK, nil
	case "cbor":
		return CBOR, nil
	}
	return 0, fmt.Errorf("unsupported serialization: %q", s)
}

// Serializer is the interface implemented by an object that can serialize and
// deserialize WAMP messages
type Serializer interface {
	Serialize(wamp.Message) ([]byte, error)
	Deserialize([]byte) (wamp.Message, error)
}

// New returns the Serializer for s.
func New(s Serialization) (Serializer, error) {
	switch s {
	case JSON:
		return &JSONSerializer{}, nil
	case MSGPACK:
		return &MessagePackSerializer{}, nil
	case CBOR:
		return &CBORSerializer{}, nil
	}
	return nil, fmt.Errorf("unsupported serialization: %v", s)
}

var mapType = reflect.TypeOf(map[string]interface{}(nil))

func encode(msg wamp.Message, h codec.Handle) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, h).Encode(msgToList(msg)); err != nil {
		return nil, err
	}
	return b, nil
}

func decode(data []byte, h codec.Handle) (wamp.Message, error) {
	var v []interface{}
	if err := codec.NewDecoderBytes(data, h).Decode(&v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("invalid message")
	}
	// Decoders differ in the integer type they produce for the message code.
	typ, ok := wamp.AsInt64(v[0])
	if !ok {
		return nil, errors.New("unsupported message format")
	}
	return listToMsg(wamp.MessageType(typ), v)
}

// listToMsg takes a list of values from a WAMP message and populates the
// fields of a message type.
func listToMsg(msgType wamp.MessageType, vlist []interface{}) (wamp.Message, error) {
	msg := wamp.NewMessage(msgType)
	if msg == nil {
		return nil, fmt.Errorf("unsupported message type %v", msgType)
	}
	val := reflect.ValueOf(msg).Elem()
	for i := 0; i < val.NumField() && i < len(vlist)-1; i++ {
		f := val.Field(i)
		if vlist[i+1] == nil {
			continue
		}
		arg := reflect.ValueOf(vlist[i+1])
		if arg.Kind() == reflect.Ptr {
			arg = arg.Elem()
		}
		switch {
		case arg.Type().AssignableTo(f.Type()):
			f.Set(arg)
		case arg.Type().ConvertibleTo(f.Type()) && convertible(arg, f.Type()):
			f.Set(arg.Convert(f.Type()))
		case arg.Kind() != f.Kind():
			return nil, fmt.Errorf("%v field %d: have %s, want %s",
				msgType, i+1, arg.Type(), f.Type())
		case f.Kind() == reflect.Map:
			if err := assignMap(f, arg); err != nil {
				return nil, fmt.Errorf("%v field %d: %w", msgType, i+1, err)
			}
		case f.Kind() == reflect.Slice:
			if err := assignSlice(f, arg); err != nil {
				return nil, fmt.Errorf("%v field %d: %w", msgType, i+1, err)
			}
		default:
			return nil, fmt.Errorf("%v field %d: cannot assign %s to %s",
				msgType, i+1, arg.Type(), f.Type())
		}
	}
	return msg, nil
}

// convertible rejects the numeric-to-string conversion that reflect allows
// but that would turn a number into a rune.
func convertible(v reflect.Value, typ reflect.Type) bool {
	if typ.Kind() == reflect.String {
		return v.Kind() == reflect.String
	}
	return true
}

// convertType converts a value to the specified type if necessary/possible.
// No-op if not necessary, error if not possible.
func convertType(val reflect.Value, typ reflect.Type) (reflect.Value, error) {
	valType := val.Type()
	if valType.AssignableTo(typ) {
		return val, nil
	}
	if !valType.ConvertibleTo(typ) {
		return val, fmt.Errorf("type %s not convertible to %s",
			valType.Kind(), typ.Kind())
	}
	return val.Convert(typ), nil
}

// assignMap takes the key-value pairs from src and copies them into dst.
// Types are converted as needed.
func assignMap(dst reflect.Value, src reflect.Value) error {
	dstKeyType := dst.Type().Key()
	dstValType := dst.Type().Elem()

	dst.Set(reflect.MakeMap(dst.Type()))
	for _, k := range src.MapKeys() {
		v := src.MapIndex(k)
		if k.Kind() == reflect.Interface {
			k = k.Elem()
		}
		var err error
		if k, err = convertType(k, dstKeyType); err != nil {
			return fmt.Errorf("cannot convert key '%v': %w", k.Interface(), err)
		}
		if v, err = convertType(v, dstValType); err != nil {
			return fmt.Errorf("cannot convert value for key '%v': %w",
				k.Interface(), err)
		}
		dst.SetMapIndex(k, v)
	}
	return nil
}

// assignSlice takes the values from src and copies them into dst.  Types are
// converted as needed.
func assignSlice(dst reflect.Value, src reflect.Value) error {
	dst.Set(reflect.MakeSlice(dst.Type(), src.Len(), src.Len()))
	dstElemType := dst.Type().Elem()
	for i := 0; i < src.Len(); i++ {
		v, err := convertType(src.Index(i), dstElemType)
		if err != nil {
			return fmt.Errorf("cannot convert value at index %d: %w", i, err)
		}
		dst.Index(i).Set(v)
	}
	return nil
}

// msgToList converts a message to a list of interface{}.  Trailing empty
// omitempty fields are not appended to the list.
func msgToList(msg wamp.Message) []interface{} {
	val := reflect.ValueOf(msg).Elem()

	last := val.Type().NumField() - 1
	for ; last > 0; last-- {
		tag := val.Type().Field(last).Tag.Get("wamp")
		if !strings.Contains(tag, "omitempty") || val.Field(last).Len() > 0 {
			break
		}
	}

	ret := make([]interface{}, last+2)
	ret[0] = int(msg.MessageType())
	for i := 0; i <= last; i++ {
		f := val.Field(i)
		// Nil dicts and lists go on the wire as {} and [] rather than null.
		switch {
		case f.Kind() == reflect.Map && f.IsNil():
			ret[i+1] = map[string]interface{}{}
			continue
		case f.Kind() == reflect.Slice && f.IsNil():
			ret[i+1] = []interface{}{}
			continue
		}
		ret[i+1] = f.Interface()
	}
	return ret
}
