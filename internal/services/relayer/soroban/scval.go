package soroban

import (
	"sort"

	"github.com/stellar/go/xdr"
)

// Bool returns a boolean ScVal.
func Bool(v bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &v}
}

// Bytes returns a bytes ScVal.
func Bytes(v []byte) xdr.ScVal {
	b := xdr.ScBytes(append([]byte(nil), v...))
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &b}
}

// Symbol returns a symbol ScVal.
func Symbol(v string) xdr.ScVal {
	sym := xdr.ScSymbol(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

// String returns a string ScVal.
func String(v string) xdr.ScVal {
	s := xdr.ScString(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &s}
}

// U32 returns an unsigned 32-bit ScVal.
func U32(v uint32) xdr.ScVal {
	u := xdr.Uint32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

// I32 returns a signed 32-bit ScVal.
func I32(v int32) xdr.ScVal {
	i := xdr.Int32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvI32, I32: &i}
}

// U64 returns an unsigned 64-bit ScVal.
func U64(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

// I64 returns a signed 64-bit ScVal.
func I64(v int64) xdr.ScVal {
	i := xdr.Int64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvI64, I64: &i}
}

// I128 returns a signed 128-bit ScVal holding an int64 value.
func I128(v int64) xdr.ScVal {
	hi := xdr.Int64(0)
	if v < 0 {
		hi = -1
	}
	parts := xdr.Int128Parts{Hi: hi, Lo: xdr.Uint64(uint64(v))}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}

// Address returns an address ScVal.
func Address(address xdr.ScAddress) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &address}
}

// Vec returns a vector ScVal.
func Vec(values ...xdr.ScVal) xdr.ScVal {
	vec := xdr.ScVec(values)
	ptr := &vec
	return xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &ptr}
}

// SymbolMap returns a map ScVal keyed by symbols. Entries are sorted by key,
// which the host requires for map values.
func SymbolMap(fields map[string]xdr.ScVal) xdr.ScVal {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make(xdr.ScMap, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, xdr.ScMapEntry{Key: Symbol(key), Val: fields[key]})
	}
	ptr := &entries
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &ptr}
}
