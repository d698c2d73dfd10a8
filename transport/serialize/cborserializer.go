package serialize

import (
	"github.com/ugorji/go/codec"

	"github.com/crossbario/crossbar/wamp"
)

// CBORSerializer is an implementation of Serializer that handles
// serializing and deserializing cbor encoded payloads.
type CBORSerializer struct{}

func cborHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.MapType = mapType
	return h
}

// Serialize encodes a Message into a cbor payload.
func (s *CBORSerializer) Serialize(msg wamp.Message) ([]byte, error) {
	return encode(msg, cborHandle())
}

// Deserialize decodes a cbor payload into a Message.
func (s *CBORSerializer) Deserialize(data []byte) (wamp.Message, error) {
	return decode(data, cborHandle())
}
