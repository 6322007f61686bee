package message

import (
	"errors"
	"reflect"
	"testing"

	"github.com/criyle/go-appspawn/types"
)

func testRequest() *Request {
	flags := NewFlags()
	flags.Set(FlagDebuggable)
	flags.Set(FlagDeveloperMode)
	perm := NewFlags()
	perm.Set(2)
	return &Request{
		Header: Header{Type: TypeAppSpawn, ID: 7, ProcessName: "com.example.demo"},
		Bundle: &BundleInfo{Index: 1, Name: "com.example.demo"},
		Flags:  flags,
		Dac: &DacInfo{
			UID:      20010029,
			GID:      20010029,
			Gids:     []uint32{20010029, 1008},
			UserName: "demo",
		},
		Domain:      &DomainInfo{HapFlags: 1, APL: "normal"},
		Owner:       &OwnerInfo{ID: "owner-1"},
		AccessToken: &AccessToken{TokenIDEx: 0x1234567890},
		Permission:  perm,
		Internet:    &InternetInfo{SetAllowInternet: 1, AllowInternet: 1},
		Extensions: []Extension{
			{Name: ExtAppEnv, DataType: DataTypeString, Data: []byte(`{"A":"1"}` + "\x00")},
			{Name: ExtHspList, Data: []byte{1, 2, 3}},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	req := testRequest()
	b, err := Encode(req)
	if err != nil {
		t.Fatal(err)
	}
	if int(req.Len) != len(b) || req.TLVCount != 10 {
		t.Fatalf("header not updated: len=%d/%d count=%d", req.Len, len(b), req.TLVCount)
	}
	if len(b)%4 != 0 {
		t.Errorf("encoded length %d not aligned", len(b))
	}
	got, n, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(b) {
		t.Errorf("consumed %d, want %d", n, len(b))
	}
	if !reflect.DeepEqual(got, req) {
		t.Errorf("decode(encode(req)) mismatch\n got: %+v\nwant: %+v", got, req)
	}
	if s, ok := got.ExtString(ExtAppEnv); !ok || s != `{"A":"1"}` {
		t.Errorf("ExtString = %q, %v", s, ok)
	}
	if !got.HasFlag(FlagDebuggable) || got.HasFlag(FlagColdBoot) {
		t.Errorf("unexpected flags %v", got.Flags.Bits)
	}
}

func TestDecodeFragmented(t *testing.T) {
	b, err := Encode(testRequest())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(b); i++ {
		_, n, err := Decode(b[:i])
		if !errors.Is(err, ErrNeedMore) || n != 0 {
			t.Fatalf("prefix %d: got n=%d err=%v", i, n, err)
		}
	}
}

func TestDecodePipelined(t *testing.T) {
	first := testRequest()
	second := testRequest()
	second.ID = 8
	second.Type = TypeDump
	b1, _ := Encode(first)
	b2, _ := Encode(second)
	buf := append(append([]byte{}, b1...), b2...)

	r1, n1, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	r2, n2, err := Decode(buf[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if n1+n2 != len(buf) || r1.ID != 7 || r2.ID != 8 {
		t.Errorf("pipelined decode: n=%d+%d ids=%d,%d", n1, n2, r1.ID, r2.ID)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, _ := Encode(testRequest())
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte{}, valid...))
	}
	tests := []struct {
		name string
		buf  []byte
		err  error
	}{
		{"magic", mutate(func(b []byte) []byte { le.PutUint32(b, 0x1234); return b }), ErrInvalidMagic},
		{"magic early", []byte{1, 2, 3, 4}, ErrInvalidMagic},
		{"too long", mutate(func(b []byte) []byte { le.PutUint32(b[12:], MaxTotalLen+1); return b }), ErrMsgLen},
		{"too short", mutate(func(b []byte) []byte { le.PutUint32(b[12:], HeaderSize-1); return b }), ErrMsgLen},
		{"tlv count limit", mutate(func(b []byte) []byte { le.PutUint32(b[16:], MaxTLVCount+1); return b }), ErrTLVCount},
		{"tlv count less", mutate(func(b []byte) []byte { le.PutUint32(b[16:], 3); return b }), ErrTLVCount},
		{"tlv count more", mutate(func(b []byte) []byte { le.PutUint32(b[16:], 11); return b }), ErrTLVCount},
		{"tlv overflow", mutate(func(b []byte) []byte { le.PutUint32(b[HeaderSize+4:], 0xfffffff0); return b }), ErrTLVInvalid},
		{"tlv underflow", mutate(func(b []byte) []byte { le.PutUint32(b[HeaderSize+4:], 4); return b }), ErrTLVInvalid},
		{"tag out of range", mutate(func(b []byte) []byte { le.PutUint32(b[HeaderSize:], uint32(TagMax)+1); return b }), ErrTLVInvalid},
		{"duplicate tag", mutate(func(b []byte) []byte { le.PutUint32(b[HeaderSize:], uint32(TagMsgFlags)); return b }), ErrTLVInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, n, err := Decode(tt.buf)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got err %v, want %v", err, tt.err)
			}
			if req != nil || n != 0 {
				t.Errorf("partial result on error: %v %d", req, n)
			}
		})
	}
}

func TestDecodeGidCount(t *testing.T) {
	req := &Request{
		Header: Header{Type: TypeAppSpawn, ProcessName: "p"},
		Dac:    &DacInfo{UID: 1, GID: 1, Gids: []uint32{1}},
	}
	b, err := Encode(req)
	if err != nil {
		t.Fatal(err)
	}
	// gidCount lives after the TLV header, uid and gid
	le.PutUint32(b[HeaderSize+tlvHeaderSize+8:], MaxGids+1)
	if _, _, err := Decode(b); !errors.Is(err, ErrTLVInvalid) {
		t.Fatalf("got %v, want ErrTLVInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(r *Request)
		code types.ErrCode
	}{
		{"valid", func(r *Request) {}, types.OK},
		{"missing dac", func(r *Request) { r.Dac = nil }, types.MsgInvalid},
		{"missing token", func(r *Request) { r.AccessToken = nil }, types.MsgInvalid},
		{"slash bundle", func(r *Request) { r.Bundle.Name = "a/b" }, types.ArgInvalid},
		{"backslash bundle", func(r *Request) { r.Bundle.Name = `a\b` }, types.ArgInvalid},
		{"empty process", func(r *Request) { r.ProcessName = "" }, types.ArgInvalid},
		{"unknown type", func(r *Request) { r.Type = typeMax }, types.MsgInvalid},
		{"dump needs nothing", func(r *Request) { *r = Request{Header: Header{Type: TypeDump}} }, types.OK},
		{"termination pid", func(r *Request) { r.Type = TypeGetRenderTerminationStatus }, types.MsgInvalid},
		{"beget without flag", func(r *Request) { r.Type = TypeBegetCmd }, types.ArgInvalid},
		{"beget without pty", func(r *Request) {
			r.Type = TypeBegetCmd
			r.Flags.Set(FlagBegetctlBoot)
			r.Extensions = append(r.Extensions, Extension{Name: ExtBegetPid, DataType: DataTypeString, Data: []byte("12\x00")})
		}, types.MsgInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRequest()
			tt.edit(r)
			if got := types.Code(Validate(r)); got != tt.code {
				t.Errorf("Validate = %v, want %v", got, tt.code)
			}
		})
	}
}

func TestResponse(t *testing.T) {
	h := Header{Type: TypeAppSpawn, ID: 42, ProcessName: "demo"}
	b := EncodeResponse(h, types.Result{Code: types.SpawnTimeout, Pid: -1})
	if len(b) != ResponseSize {
		t.Fatalf("response size %d", len(b))
	}
	gh, res, err := DecodeResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	if gh.ID != 42 || gh.ProcessName != "demo" || res.Code != types.SpawnTimeout || res.Pid != -1 {
		t.Errorf("unexpected response %+v %v", gh, res)
	}
}

func TestEncodeLimits(t *testing.T) {
	r := &Request{Header: Header{Type: TypeAppSpawn, ProcessName: "p"}}
	r.Extensions = append(r.Extensions, Extension{Name: "big", Data: make([]byte, MaxTotalLen)})
	if _, err := Encode(r); err == nil {
		t.Error("expected oversized message to fail")
	}
	r.Extensions = []Extension{{Name: "a-very-long-extension-name-over-32", Data: []byte{1}}}
	if _, err := Encode(r); err == nil {
		t.Error("expected long extension name to fail")
	}
}
