package bolt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// This file implements PackStream encoding and decoding for the value
// types a RUN/PULL exchange actually carries: scalars, strings, lists,
// and maps, plus the one structure (Node) result rows commonly contain.
// Decoding arbitrary tagged structures (relationships, paths, spatial and
// temporal types) is the separate "tagged-value graph entity decoder"
// this repository does not implement; EncodeValue still emits a Node
// structure for result rows that carry one (callers pass it a ready-made
// map, they don't get a decoder for it). DecodeValue returns nil for any
// structure after consuming only its marker byte; the signature and field
// bytes are not skipped.

// EncodeMap encodes a PackStream map.
func EncodeMap(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte{0xA0}
	}

	var buf []byte
	size := len(m)
	switch {
	case size < 16:
		buf = append(buf, byte(0xA0+size))
	case size < 256:
		buf = append(buf, 0xD8, byte(size))
	default:
		buf = append(buf, 0xD9, byte(size>>8), byte(size))
	}

	for k, v := range m {
		buf = append(buf, EncodeString(k)...)
		buf = append(buf, EncodeValue(v)...)
	}
	return buf
}

// EncodeList encodes a PackStream list.
func EncodeList(items []any) []byte {
	if len(items) == 0 {
		return []byte{0x90}
	}

	var buf []byte
	size := len(items)
	switch {
	case size < 16:
		buf = append(buf, byte(0x90+size))
	case size < 256:
		buf = append(buf, 0xD4, byte(size))
	default:
		buf = append(buf, 0xD5, byte(size>>8), byte(size))
	}

	for _, item := range items {
		buf = append(buf, EncodeValue(item)...)
	}
	return buf
}

// EncodeString encodes a PackStream string.
func EncodeString(s string) []byte {
	length := len(s)
	var buf []byte

	switch {
	case length < 16:
		buf = append(buf, byte(0x80+length))
	case length < 256:
		buf = append(buf, 0xD0, byte(length))
	case length < 65536:
		buf = append(buf, 0xD1, byte(length>>8), byte(length))
	default:
		buf = append(buf, 0xD2, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}

	buf = append(buf, []byte(s)...)
	return buf
}

// EncodeInt encodes a PackStream integer using the narrowest marker that
// fits val.
func EncodeInt(val int64) []byte {
	switch {
	case val >= -16 && val <= 127:
		return []byte{byte(val)}
	case val >= -128 && val < -16:
		return []byte{0xC8, byte(val)}
	case val >= -32768 && val <= 32767:
		return []byte{0xC9, byte(val >> 8), byte(val)}
	case val >= -2147483648 && val <= 2147483647:
		return []byte{0xCA, byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val)}
	default:
		return []byte{0xCB,
			byte(val >> 56), byte(val >> 48), byte(val >> 40), byte(val >> 32),
			byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val)}
	}
}

// EncodeValue encodes any supported result-row value. Values of a type it
// doesn't recognize encode as null rather than erroring, since a RUN
// result's column values come from an injected QueryExecutor this package
// doesn't control.
func EncodeValue(v any) []byte {
	switch val := v.(type) {
	case nil:
		return []byte{0xC0}
	case bool:
		if val {
			return []byte{0xC3}
		}
		return []byte{0xC2}
	case int:
		return EncodeInt(int64(val))
	case int8:
		return EncodeInt(int64(val))
	case int16:
		return EncodeInt(int64(val))
	case int32:
		return EncodeInt(int64(val))
	case int64:
		return EncodeInt(val)
	case uint:
		return EncodeInt(int64(val))
	case uint8:
		return EncodeInt(int64(val))
	case uint16:
		return EncodeInt(int64(val))
	case uint32:
		return EncodeInt(int64(val))
	case uint64:
		return EncodeInt(int64(val))
	case float32:
		return encodeFloat(float64(val))
	case float64:
		return encodeFloat(val)
	case string:
		return EncodeString(val)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return EncodeList(items)
	case []any:
		return EncodeList(val)
	case []int64:
		items := make([]any, len(val))
		for i, n := range val {
			items[i] = n
		}
		return EncodeList(items)
	case []float64:
		items := make([]any, len(val))
		for i, n := range val {
			items[i] = n
		}
		return EncodeList(items)
	case map[string]any:
		if nodeID, ok := val["_nodeId"]; ok {
			if labels, ok := val["labels"]; ok {
				return EncodeNode(nodeID, labels, val)
			}
		}
		return EncodeMap(val)
	default:
		return []byte{0xC0}
	}
}

func encodeFloat(v float64) []byte {
	buf := make([]byte, 9)
	buf[0] = 0xC1
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	return buf
}

// EncodeNode encodes a result-row node as a Bolt Node structure (tiny
// struct, 3 fields, signature 0x4E): id, labels, properties. nodeMap's
// "_nodeId" and "labels" entries are consumed as the first two fields and
// excluded from the properties map.
func EncodeNode(nodeID, labels any, nodeMap map[string]any) []byte {
	buf := []byte{0xB3, 0x4E}

	idStr, _ := nodeID.(string)
	var id int64
	for _, c := range idStr {
		id = id*31 + int64(c)
	}
	buf = append(buf, EncodeInt(id)...)

	var labelList []any
	switch l := labels.(type) {
	case []string:
		for _, s := range l {
			labelList = append(labelList, s)
		}
	case []any:
		labelList = l
	}
	buf = append(buf, EncodeList(labelList)...)

	props := make(map[string]any, len(nodeMap))
	for k, v := range nodeMap {
		if k == "_nodeId" || k == "labels" {
			continue
		}
		props[k] = v
	}
	buf = append(buf, EncodeMap(props)...)

	return buf
}

// DecodeString decodes a PackStream string at offset, returning the
// string and the number of bytes it consumed.
func DecodeString(data []byte, offset int) (string, int, error) {
	if offset >= len(data) {
		return "", 0, fmt.Errorf("bolt: packstream: offset out of bounds")
	}

	start := offset
	marker := data[offset]
	offset++

	var length int
	switch {
	case marker >= 0x80 && marker <= 0x8F:
		length = int(marker - 0x80)
	case marker == 0xD0:
		if offset >= len(data) {
			return "", 0, fmt.Errorf("bolt: packstream: incomplete STRING8")
		}
		length = int(data[offset])
		offset++
	case marker == 0xD1:
		if offset+1 >= len(data) {
			return "", 0, fmt.Errorf("bolt: packstream: incomplete STRING16")
		}
		length = int(data[offset])<<8 | int(data[offset+1])
		offset += 2
	case marker == 0xD2:
		if offset+3 >= len(data) {
			return "", 0, fmt.Errorf("bolt: packstream: incomplete STRING32")
		}
		length = int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
	default:
		return "", 0, fmt.Errorf("bolt: packstream: not a string marker: 0x%02X", marker)
	}

	if offset+length > len(data) {
		return "", 0, fmt.Errorf("bolt: packstream: string data out of bounds")
	}
	return string(data[offset : offset+length]), (offset + length) - start, nil
}

// DecodeMap decodes a PackStream map at offset.
func DecodeMap(data []byte, offset int) (map[string]any, int, error) {
	if offset >= len(data) {
		return nil, 0, fmt.Errorf("bolt: packstream: offset out of bounds")
	}

	start := offset
	marker := data[offset]
	offset++

	var size int
	switch {
	case marker >= 0xA0 && marker <= 0xAF:
		size = int(marker - 0xA0)
	case marker == 0xD8:
		if offset >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete MAP8")
		}
		size = int(data[offset])
		offset++
	case marker == 0xD9:
		if offset+1 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete MAP16")
		}
		size = int(data[offset])<<8 | int(data[offset+1])
		offset += 2
	default:
		return nil, 0, fmt.Errorf("bolt: packstream: not a map marker: 0x%02X", marker)
	}

	result := make(map[string]any, size)
	for i := 0; i < size; i++ {
		key, n, err := DecodeString(data, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("bolt: packstream: map key: %w", err)
		}
		offset += n

		value, n, err := DecodeValue(data, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("bolt: packstream: map value for key %s: %w", key, err)
		}
		offset += n

		result[key] = value
	}
	return result, offset - start, nil
}

// DecodeList decodes a PackStream list at offset.
func DecodeList(data []byte, offset int) ([]any, int, error) {
	if offset >= len(data) {
		return nil, 0, fmt.Errorf("bolt: packstream: offset out of bounds")
	}

	start := offset
	marker := data[offset]
	offset++

	var size int
	switch {
	case marker >= 0x90 && marker <= 0x9F:
		size = int(marker - 0x90)
	case marker == 0xD4:
		if offset >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete LIST8")
		}
		size = int(data[offset])
		offset++
	case marker == 0xD5:
		if offset+1 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete LIST16")
		}
		size = int(data[offset])<<8 | int(data[offset+1])
		offset += 2
	default:
		return nil, 0, fmt.Errorf("bolt: packstream: not a list marker: 0x%02X", marker)
	}

	result := make([]any, 0, size)
	for i := 0; i < size; i++ {
		value, n, err := DecodeValue(data, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("bolt: packstream: list item %d: %w", i, err)
		}
		offset += n
		result = append(result, value)
	}
	return result, offset - start, nil
}

// DecodeValue decodes one PackStream-encoded value at offset, returning
// it along with the number of bytes consumed. Every structure, including
// the Node this package encodes, decodes to nil with only its marker byte
// consumed: the full tagged-value graph entity decoder is out of scope.
func DecodeValue(data []byte, offset int) (any, int, error) {
	if offset >= len(data) {
		return nil, 0, fmt.Errorf("bolt: packstream: offset out of bounds")
	}

	marker := data[offset]

	switch {
	case marker == 0xC0:
		return nil, 1, nil
	case marker == 0xC2:
		return false, 1, nil
	case marker == 0xC3:
		return true, 1, nil
	case marker <= 0x7F:
		return int64(marker), 1, nil
	case marker >= 0xF0:
		return int64(int8(marker)), 1, nil
	case marker == 0xC8:
		if offset+1 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete INT8")
		}
		return int64(int8(data[offset+1])), 2, nil
	case marker == 0xC9:
		if offset+2 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete INT16")
		}
		v := int16(data[offset+1])<<8 | int16(data[offset+2])
		return int64(v), 3, nil
	case marker == 0xCA:
		if offset+4 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete INT32")
		}
		v := int32(data[offset+1])<<24 | int32(data[offset+2])<<16 | int32(data[offset+3])<<8 | int32(data[offset+4])
		return int64(v), 5, nil
	case marker == 0xCB:
		if offset+8 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete INT64")
		}
		v := int64(data[offset+1])<<56 | int64(data[offset+2])<<48 | int64(data[offset+3])<<40 | int64(data[offset+4])<<32 |
			int64(data[offset+5])<<24 | int64(data[offset+6])<<16 | int64(data[offset+7])<<8 | int64(data[offset+8])
		return v, 9, nil
	case marker == 0xC1:
		if offset+8 >= len(data) {
			return nil, 0, fmt.Errorf("bolt: packstream: incomplete FLOAT64")
		}
		bits := binary.BigEndian.Uint64(data[offset+1 : offset+9])
		return math.Float64frombits(bits), 9, nil
	case marker >= 0x80 && marker <= 0x8F, marker == 0xD0, marker == 0xD1, marker == 0xD2:
		return DecodeString(data, offset)
	case marker >= 0x90 && marker <= 0x9F, marker == 0xD4, marker == 0xD5:
		return DecodeList(data, offset)
	case marker >= 0xA0 && marker <= 0xAF, marker == 0xD8, marker == 0xD9:
		return DecodeMap(data, offset)
	case marker >= 0xB0 && marker <= 0xBF:
		// Tiny structure: consume the marker byte only. The signature
		// byte and the fields are left in place; a caller that wants
		// them reads them itself.
		return nil, 1, nil
	default:
		return nil, 0, fmt.Errorf("bolt: packstream: unknown marker 0x%02X", marker)
	}
}
