package soroban

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stellar/go/xdr"
)

// Arg is a typed contract argument as accepted over JSON, for example
// {"type":"address","value":"C..."} or {"type":"bool","value":true}.
type Arg struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// DecodeArgs converts typed JSON arguments into ScVals.
func DecodeArgs(args []Arg) ([]xdr.ScVal, error) {
	out := make([]xdr.ScVal, 0, len(args))
	for i, arg := range args {
		val, err := DecodeArg(arg)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out = append(out, val)
	}
	return out, nil
}

// DecodeArg converts one typed JSON argument into an ScVal.
func DecodeArg(arg Arg) (xdr.ScVal, error) {
	switch strings.ToLower(strings.TrimSpace(arg.Type)) {
	case "address":
		var s string
		if err := json.Unmarshal(arg.Value, &s); err != nil {
			return xdr.ScVal{}, fmt.Errorf("address value: %w", err)
		}
		address, err := ParseAddress(s)
		if err != nil {
			return xdr.ScVal{}, err
		}
		return Address(address), nil
	case "bool":
		var b bool
		if err := json.Unmarshal(arg.Value, &b); err != nil {
			return xdr.ScVal{}, fmt.Errorf("bool value: %w", err)
		}
		return Bool(b), nil
	case "bytes":
		var s string
		if err := json.Unmarshal(arg.Value, &s); err != nil {
			return xdr.ScVal{}, fmt.Errorf("bytes value: %w", err)
		}
		raw, err := hex.DecodeString(s)
		if err != nil {
			return xdr.ScVal{}, fmt.Errorf("bytes value must be hex: %w", err)
		}
		return Bytes(raw), nil
	case "symbol":
		var s string
		if err := json.Unmarshal(arg.Value, &s); err != nil {
			return xdr.ScVal{}, fmt.Errorf("symbol value: %w", err)
		}
		if len(s) > 32 {
			return xdr.ScVal{}, fmt.Errorf("symbol %q longer than 32 characters", s)
		}
		return Symbol(s), nil
	case "string":
		var s string
		if err := json.Unmarshal(arg.Value, &s); err != nil {
			return xdr.ScVal{}, fmt.Errorf("string value: %w", err)
		}
		return String(s), nil
	case "u32":
		var v uint32
		if err := json.Unmarshal(arg.Value, &v); err != nil {
			return xdr.ScVal{}, fmt.Errorf("u32 value: %w", err)
		}
		return U32(v), nil
	case "i32":
		var v int32
		if err := json.Unmarshal(arg.Value, &v); err != nil {
			return xdr.ScVal{}, fmt.Errorf("i32 value: %w", err)
		}
		return I32(v), nil
	case "u64":
		var v uint64
		if err := json.Unmarshal(arg.Value, &v); err != nil {
			return xdr.ScVal{}, fmt.Errorf("u64 value: %w", err)
		}
		return U64(v), nil
	case "i64":
		var v int64
		if err := json.Unmarshal(arg.Value, &v); err != nil {
			return xdr.ScVal{}, fmt.Errorf("i64 value: %w", err)
		}
		return I64(v), nil
	case "i128":
		var v int64
		if err := json.Unmarshal(arg.Value, &v); err != nil {
			return xdr.ScVal{}, fmt.Errorf("i128 value: %w", err)
		}
		return I128(v), nil
	case "vec":
		var items []Arg
		if err := json.Unmarshal(arg.Value, &items); err != nil {
			return xdr.ScVal{}, fmt.Errorf("vec value: %w", err)
		}
		values, err := DecodeArgs(items)
		if err != nil {
			return xdr.ScVal{}, fmt.Errorf("vec: %w", err)
		}
		return Vec(values...), nil
	case "void":
		return xdr.ScVal{Type: xdr.ScValTypeScvVoid}, nil
	default:
		return xdr.ScVal{}, fmt.Errorf("unsupported argument type %q", arg.Type)
	}
}

// EncodeArg renders val in the typed JSON form DecodeArg accepts.
func EncodeArg(val xdr.ScVal) (Arg, error) {
	var (
		typ   string
		value any
	)
	switch val.Type {
	case xdr.ScValTypeScvVoid:
		typ = "void"
	case xdr.ScValTypeScvAddress:
		address, err := AddressString(*val.Address)
		if err != nil {
			return Arg{}, err
		}
		typ, value = "address", address
	case xdr.ScValTypeScvBool:
		typ, value = "bool", *val.B
	case xdr.ScValTypeScvBytes:
		typ, value = "bytes", hex.EncodeToString(*val.Bytes)
	case xdr.ScValTypeScvSymbol:
		typ, value = "symbol", string(*val.Sym)
	case xdr.ScValTypeScvString:
		typ, value = "string", string(*val.Str)
	case xdr.ScValTypeScvU32:
		typ, value = "u32", uint32(*val.U32)
	case xdr.ScValTypeScvI32:
		typ, value = "i32", int32(*val.I32)
	case xdr.ScValTypeScvU64:
		typ, value = "u64", uint64(*val.U64)
	case xdr.ScValTypeScvI64:
		typ, value = "i64", int64(*val.I64)
	case xdr.ScValTypeScvI128:
		parts := *val.I128
		lo := int64(parts.Lo)
		if (parts.Hi != 0 || lo < 0) && (parts.Hi != -1 || lo >= 0) {
			return Arg{}, fmt.Errorf("i128 value does not fit in 64 bits")
		}
		typ, value = "i128", lo
	case xdr.ScValTypeScvVec:
		items := []Arg{}
		if val.Vec != nil && *val.Vec != nil {
			for i, item := range **val.Vec {
				arg, err := EncodeArg(item)
				if err != nil {
					return Arg{}, fmt.Errorf("vec item %d: %w", i, err)
				}
				items = append(items, arg)
			}
		}
		typ, value = "vec", items
	default:
		return Arg{}, fmt.Errorf("unsupported value type %s", val.Type)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Arg{}, fmt.Errorf("encode %s value: %w", typ, err)
	}
	return Arg{Type: typ, Value: raw}, nil
}
