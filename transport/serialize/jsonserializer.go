package serialize

import (
	"github.com/ugorji/go/codec"

	"github.com/crossbario/crossbar/wamp"
)

// JSONSerializer is an implementation of Serializer that handles
// serializing and deserializing json encoded payloads.
type JSONSerializer struct{}

func jsonHandle() *codec.JsonHandle {
	h := &codec.JsonHandle{}
	h.MapType = mapType
	return h
}

// Serialize encodes a Message into a json payload.
func (s *JSONSerializer) Serialize(msg wamp.Message) ([]byte, error) {
	return encode(msg, jsonHandle())
}

// Deserialize decodes a json payload into a Message.
func (s *JSONSerializer) Deserialize(data []byte) (wamp.Message, error) {
	return decode(data, jsonHandle())
}
