package soroban

import (
	"encoding/json"
	"testing"

	"github.com/stellar/go/xdr"
)

func TestSymbolMapSortsKeys(t *testing.T) {
	val := SymbolMap(map[string]xdr.ScVal{
		"signature":          Bytes([]byte{1}),
		"authenticator_data": Bytes([]byte{2}),
		"id":                 Bytes([]byte{3}),
		"client_data_json":   Bytes([]byte{4}),
	})
	if val.Type != xdr.ScValTypeScvMap || val.Map == nil || *val.Map == nil {
		t.Fatalf("val = %+v, want map", val)
	}
	want := []string{"authenticator_data", "client_data_json", "id", "signature"}
	entries := **val.Map
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, entry := range entries {
		if string(*entry.Key.Sym) != want[i] {
			t.Fatalf("key %d = %q, want %q", i, *entry.Key.Sym, want[i])
		}
	}
}

func TestI128EncodesNegativeValues(t *testing.T) {
	val := I128(-5)
	if val.I128.Hi != -1 || uint64(val.I128.Lo) != ^uint64(4) {
		t.Fatalf("i128 = %+v, want hi -1 lo two's complement", val.I128)
	}
	val = I128(5)
	if val.I128.Hi != 0 || val.I128.Lo != 5 {
		t.Fatalf("i128 = %+v, want hi 0 lo 5", val.I128)
	}
}

func TestDecodeArgs(t *testing.T) {
	var args []Arg
	raw := `[
		{"type":"address","value":"CAAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQC526"},
		{"type":"bool","value":true},
		{"type":"bytes","value":"0aff"},
		{"type":"symbol","value":"vote"},
		{"type":"u32","value":7},
		{"type":"i128","value":-3},
		{"type":"vec","value":[{"type":"string","value":"x"}]}
	]`
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	vals, err := DecodeArgs(args)
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	wantTypes := []xdr.ScValType{
		xdr.ScValTypeScvAddress,
		xdr.ScValTypeScvBool,
		xdr.ScValTypeScvBytes,
		xdr.ScValTypeScvSymbol,
		xdr.ScValTypeScvU32,
		xdr.ScValTypeScvI128,
		xdr.ScValTypeScvVec,
	}
	for i, want := range wantTypes {
		if vals[i].Type != want {
			t.Fatalf("arg %d type = %v, want %v", i, vals[i].Type, want)
		}
	}
	if !*vals[1].B {
		t.Fatal("bool arg = false, want true")
	}
	if got := []byte(*vals[2].Bytes); len(got) != 2 || got[0] != 0x0a || got[1] != 0xff {
		t.Fatalf("bytes arg = %x, want 0aff", got)
	}
}

func TestDecodeArgRejectsUnknownOrMalformed(t *testing.T) {
	tests := []Arg{
		{Type: "float", Value: json.RawMessage(`1.5`)},
		{Type: "bool", Value: json.RawMessage(`"yes"`)},
		{Type: "bytes", Value: json.RawMessage(`"zz"`)},
		{Type: "address", Value: json.RawMessage(`"nope"`)},
		{Type: "u32", Value: json.RawMessage(`-1`)},
	}
	for _, arg := range tests {
		if _, err := DecodeArg(arg); err == nil {
			t.Fatalf("DecodeArg(%s %s) expected error", arg.Type, arg.Value)
		}
	}
}

func TestEncodeArgRoundTrip(t *testing.T) {
	raw := `[
		{"type":"address","value":"CAAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQC526"},
		{"type":"bool","value":false},
		{"type":"bytes","value":"0aff"},
		{"type":"symbol","value":"votes"},
		{"type":"u32","value":7},
		{"type":"i128","value":-3},
		{"type":"void","value":null},
		{"type":"vec","value":[{"type":"string","value":"x"}]}
	]`
	var args []Arg
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	vals, err := DecodeArgs(args)
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	for i, val := range vals {
		got, err := EncodeArg(val)
		if err != nil {
			t.Fatalf("encode arg %d: %v", i, err)
		}
		if got.Type != args[i].Type || string(got.Value) != string(args[i].Value) {
			t.Fatalf("arg %d = %s %s, want %s %s", i, got.Type, got.Value, args[i].Type, args[i].Value)
		}
	}
}

func TestEncodeArgRejectsWideI128(t *testing.T) {
	parts := xdr.Int128Parts{Hi: 1, Lo: 0}
	if _, err := EncodeArg(xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}); err == nil {
		t.Fatal("expected error for i128 beyond 64 bits")
	}
}
