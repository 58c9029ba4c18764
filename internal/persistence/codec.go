package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// EncodeValue serializes a payload using encoding/gob. Values are encoded
// through an interface slot so DecodeValue recovers the dynamic type; concrete
// types carried inside payloads must be registered with gob.Register (see
// api.RegisterPayloadType). A nil payload encodes to nil bytes.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload produced by EncodeValue. Nil bytes decode to
// the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return zero, err
	}
	v, ok := iv.(T)
	if !ok {
		return zero, fmt.Errorf("gob: payload of type %T is not assignable to target", iv)
	}
	return v, nil
}
