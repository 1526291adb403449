package changefeed

import (
	"encoding/binary"
	"fmt"
)

const magicByte = 0

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = magicByte
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

// decodeWireFormat splits a framed value into schema id and payload.
func decodeWireFormat(value []byte) (int, []byte, error) {
	if len(value) < 5 {
		return 0, nil, fmt.Errorf("invalid payload length: %d", len(value))
	}
	if value[0] != magicByte {
		return 0, nil, fmt.Errorf("unexpected magic byte %#x", value[0])
	}
	schemaID := int(binary.BigEndian.Uint32(value[1:5]))
	return schemaID, append([]byte(nil), value[5:]...), nil
}
