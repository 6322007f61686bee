package message

import (
	"fmt"

	"github.com/criyle/go-appspawn/types"
)

// Encode serializes r. It sets r.Len and r.TLVCount to the encoded values.
func Encode(r *Request) ([]byte, error) {
	if len(r.ProcessName) >= ProcNameLen {
		return nil, fmt.Errorf("message: process name too long (%d)", len(r.ProcessName))
	}
	b := make([]byte, HeaderSize, HeaderSize+512)
	var count uint32
	add := func(tag Tag, payload []byte) {
		l := align(tlvHeaderSize + len(payload))
		start := len(b)
		b = append(b, make([]byte, l)...)
		le.PutUint32(b[start:], uint32(tag))
		le.PutUint32(b[start+4:], uint32(l))
		copy(b[start+tlvHeaderSize:], payload)
		count++
	}

	if r.Bundle != nil {
		if len(r.Bundle.Name) >= BundleNameLen {
			return nil, fmt.Errorf("message: bundle name too long (%d)", len(r.Bundle.Name))
		}
		p := make([]byte, 4, 4+len(r.Bundle.Name)+1)
		le.PutUint32(p, r.Bundle.Index)
		p = append(append(p, r.Bundle.Name...), 0)
		add(TagBundleInfo, p)
	}
	if r.Flags != nil {
		add(TagMsgFlags, encodeFlags(r.Flags))
	}
	if r.Dac != nil {
		if len(r.Dac.Gids) > MaxGids {
			return nil, fmt.Errorf("message: too many gids (%d)", len(r.Dac.Gids))
		}
		if len(r.Dac.UserName) >= UserNameLen {
			return nil, fmt.Errorf("message: user name too long (%d)", len(r.Dac.UserName))
		}
		p := make([]byte, dacInfoSize)
		le.PutUint32(p, r.Dac.UID)
		le.PutUint32(p[4:], r.Dac.GID)
		le.PutUint32(p[8:], uint32(len(r.Dac.Gids)))
		for i, g := range r.Dac.Gids {
			le.PutUint32(p[12+4*i:], g)
		}
		copy(p[12+4*MaxGids:], r.Dac.UserName)
		add(TagDacInfo, p)
	}
	if r.Domain != nil {
		if len(r.Domain.APL) >= APLMaxLen {
			return nil, fmt.Errorf("message: apl too long (%d)", len(r.Domain.APL))
		}
		p := make([]byte, 4, 4+len(r.Domain.APL)+1)
		le.PutUint32(p, r.Domain.HapFlags)
		p = append(append(p, r.Domain.APL...), 0)
		add(TagDomainInfo, p)
	}
	if r.Owner != nil {
		if len(r.Owner.ID) >= OwnerIDLen {
			return nil, fmt.Errorf("message: owner id too long (%d)", len(r.Owner.ID))
		}
		add(TagOwnerInfo, append([]byte(r.Owner.ID), 0))
	}
	if r.AccessToken != nil {
		p := make([]byte, 8)
		le.PutUint64(p, r.AccessToken.TokenIDEx)
		add(TagAccessTokenInfo, p)
	}
	if r.Permission != nil {
		add(TagPermission, encodeFlags(r.Permission))
	}
	if r.Internet != nil {
		add(TagInternetInfo, []byte{r.Internet.SetAllowInternet, r.Internet.AllowInternet, 0, 0})
	}
	if r.Termination != nil {
		p := make([]byte, 4)
		le.PutUint32(p, uint32(r.Termination.Pid))
		add(TagRenderTerminationInfo, p)
	}
	for _, e := range r.Extensions {
		if e.Name == "" || len(e.Name) >= TLVNameLen {
			return nil, fmt.Errorf("message: invalid extension name %q", e.Name)
		}
		p := make([]byte, extHeaderSize-tlvHeaderSize, extHeaderSize-tlvHeaderSize+len(e.Data))
		le.PutUint32(p, uint32(len(e.Data)))
		le.PutUint32(p[4:], e.DataType)
		copy(p[8:], e.Name)
		add(TagMax, append(p, e.Data...))
	}

	if len(b) > MaxTotalLen {
		return nil, fmt.Errorf("message: encoded length %d exceeds %d", len(b), MaxTotalLen)
	}
	if count > MaxTLVCount {
		return nil, fmt.Errorf("message: %d records exceeds %d", count, MaxTLVCount)
	}
	r.Len = uint32(len(b))
	r.TLVCount = count
	putHeader(b, r.Header)
	return b, nil
}

func encodeFlags(f *Flags) []byte {
	p := make([]byte, 4+4*len(f.Bits))
	le.PutUint32(p, uint32(len(f.Bits)))
	for i, w := range f.Bits {
		le.PutUint32(p[4+4*i:], w)
	}
	return p
}

func putHeader(b []byte, h Header) {
	le.PutUint32(b, Magic)
	le.PutUint32(b[4:], uint32(h.Type))
	le.PutUint32(b[8:], h.ID)
	le.PutUint32(b[12:], h.Len)
	le.PutUint32(b[16:], h.TLVCount)
	name := b[20:HeaderSize]
	for i := range name {
		name[i] = 0
	}
	copy(name[:ProcNameLen-1], h.ProcessName)
}

// EncodeResponse builds the response for the request header h
func EncodeResponse(h Header, res types.Result) []byte {
	b := make([]byte, ResponseSize)
	h.Len = ResponseSize
	h.TLVCount = 0
	putHeader(b, h)
	le.PutUint32(b[HeaderSize:], uint32(res.Code))
	le.PutUint32(b[HeaderSize+4:], uint32(int32(res.Pid)))
	return b
}

// DecodeResponse parses a response produced by EncodeResponse
func DecodeResponse(b []byte) (Header, types.Result, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return h, types.Result{}, err
	}
	if h.Len != ResponseSize || len(b) < ResponseSize {
		return h, types.Result{}, fmt.Errorf("%w: response length %d", ErrMsgLen, h.Len)
	}
	return h, types.Result{
		Code: types.ErrCode(int32(le.Uint32(b[HeaderSize:]))),
		Pid:  int(int32(le.Uint32(b[HeaderSize+4:]))),
	}, nil
}
