// Package wavefrontpb holds the wire messages and gRPC service descriptors of
// the wavefront.v1 Scheduler and Exchange services.
//
// Messages use the protobuf wire format, encoded field by field with
// protowire, and travel through the "wavefront" gRPC codec registered by this
// package.
package wavefrontpb

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// wireMessage is implemented by every message in this package.
type wireMessage interface {
	appendWire(b []byte) []byte
	consumeField(num protowire.Number, typ protowire.Type, b []byte) int
}

func marshal(m wireMessage) []byte {
	return m.appendWire(nil)
}

func unmarshal(b []byte, m wireMessage) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = m.consumeField(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendDoubles writes a packed repeated double field.
func appendDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*8))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// appendInts writes a packed repeated int64 field.
func appendInts(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumeInt(num protowire.Number, typ protowire.Type, b []byte, out *int64) int {
	if typ != protowire.VarintType {
		return protowire.ConsumeFieldValue(num, typ, b)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	*out = int64(v)
	return n
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, out *string) int {
	if typ != protowire.BytesType {
		return protowire.ConsumeFieldValue(num, typ, b)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n
	}
	*out = v
	return n
}

// consumeDoubles accepts both packed and unpacked encodings.
func consumeDoubles(num protowire.Number, typ protowire.Type, b []byte, out *[]float64) int {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return n
		}
		*out = append(*out, math.Float64frombits(v))
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed64(packed)
			if m < 0 {
				return m
			}
			*out = append(*out, math.Float64frombits(v))
			packed = packed[m:]
		}
		return n
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}

// consumeInts accepts both packed and unpacked encodings.
func consumeInts(num protowire.Number, typ protowire.Type, b []byte, out *[]int64) int {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n
		}
		*out = append(*out, int64(v))
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*out = append(*out, int64(v))
			packed = packed[m:]
		}
		return n
	default:
		return protowire.ConsumeFieldValue(num, typ, b)
	}
}
