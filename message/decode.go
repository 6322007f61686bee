package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol errors, all of them except ErrNeedMore are fatal for the
// connection that produced the bytes
var (
	ErrNeedMore     = errors.New("message: need more bytes")
	ErrInvalidMagic = errors.New("message: invalid magic")
	ErrMsgLen       = errors.New("message: message length out of range")
	ErrTLVCount     = errors.New("message: tlv count out of range")
	ErrTLVInvalid   = errors.New("message: invalid tlv")
)

var le = binary.LittleEndian

// PeekHeader checks the fixed header fields available in b. It returns
// ErrNeedMore when b is shorter than the header and a protocol error as soon
// as a field is known to be invalid.
func PeekHeader(b []byte) (Header, error) {
	var h Header
	if len(b) >= 4 && le.Uint32(b) != Magic {
		return h, fmt.Errorf("%w: %#x", ErrInvalidMagic, le.Uint32(b))
	}
	if len(b) >= 16 {
		if l := le.Uint32(b[12:]); l < HeaderSize || l > MaxTotalLen {
			return h, fmt.Errorf("%w: %d", ErrMsgLen, l)
		}
	}
	if len(b) >= 20 {
		if c := le.Uint32(b[16:]); c > MaxTLVCount {
			return h, fmt.Errorf("%w: %d", ErrTLVCount, c)
		}
	}
	if len(b) < HeaderSize {
		return h, ErrNeedMore
	}
	h.Type = Type(le.Uint32(b[4:]))
	h.ID = le.Uint32(b[8:])
	h.Len = le.Uint32(b[12:])
	h.TLVCount = le.Uint32(b[16:])
	h.ProcessName = cString(b[20:HeaderSize])
	return h, nil
}

// Decode decodes the first message in b. It returns the request and the
// number of bytes consumed, or ErrNeedMore with 0 bytes consumed when b does
// not yet hold a complete message. Any other error leaves nothing decoded.
func Decode(b []byte) (*Request, int, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return nil, 0, err
	}
	total := int(h.Len)
	if len(b) < total {
		return nil, 0, ErrNeedMore
	}
	req := &Request{Header: h}
	if err := req.decodeBody(b[HeaderSize:total]); err != nil {
		return nil, 0, err
	}
	return req, total, nil
}

func (r *Request) decodeBody(b []byte) error {
	var (
		count uint32
		seen  [TagMax]bool
		names = make(map[string]bool)
	)
	for off := 0; off < len(b); {
		if len(b)-off < tlvHeaderSize {
			return fmt.Errorf("%w: truncated header at %d", ErrTLVInvalid, off)
		}
		tag := Tag(le.Uint32(b[off:]))
		l := int(le.Uint32(b[off+4:]))
		if l < tlvHeaderSize || l > len(b)-off {
			return fmt.Errorf("%w: tag %d length %d exceeds %d", ErrTLVInvalid, tag, l, len(b)-off)
		}
		if count++; count > r.TLVCount {
			return fmt.Errorf("%w: more than %d records", ErrTLVCount, r.TLVCount)
		}
		payload := b[off+tlvHeaderSize : off+l]
		switch {
		case tag < TagMax:
			if seen[tag] {
				return fmt.Errorf("%w: duplicate tag %d", ErrTLVInvalid, tag)
			}
			seen[tag] = true
			if err := r.decodeTLV(tag, payload); err != nil {
				return err
			}
		case tag == TagMax:
			e, err := decodeExt(payload)
			if err != nil {
				return err
			}
			if names[e.Name] {
				return fmt.Errorf("%w: duplicate extension %q", ErrTLVInvalid, e.Name)
			}
			names[e.Name] = true
			r.Extensions = append(r.Extensions, e)
		default:
			return fmt.Errorf("%w: tag %d not supported", ErrTLVInvalid, tag)
		}
		off += l
	}
	if count != r.TLVCount {
		return fmt.Errorf("%w: got %d records, header declares %d", ErrTLVCount, count, r.TLVCount)
	}
	return nil
}

func (r *Request) decodeTLV(tag Tag, p []byte) error {
	switch tag {
	case TagBundleInfo:
		if len(p) < 4 {
			return tlvShort(tag, p)
		}
		name := cString(p[4:])
		if len(name) >= BundleNameLen {
			return fmt.Errorf("%w: bundle name too long", ErrTLVInvalid)
		}
		r.Bundle = &BundleInfo{Index: le.Uint32(p), Name: name}

	case TagMsgFlags, TagPermission:
		f, err := decodeFlags(tag, p)
		if err != nil {
			return err
		}
		if tag == TagMsgFlags {
			r.Flags = f
		} else {
			r.Permission = f
		}

	case TagDacInfo:
		if len(p) < dacInfoSize {
			return tlvShort(tag, p)
		}
		d := &DacInfo{UID: le.Uint32(p), GID: le.Uint32(p[4:])}
		n := le.Uint32(p[8:])
		if n > MaxGids {
			return fmt.Errorf("%w: gid count %d", ErrTLVInvalid, n)
		}
		if n > 0 {
			d.Gids = make([]uint32, n)
		}
		for i := range d.Gids {
			d.Gids[i] = le.Uint32(p[12+4*i:])
		}
		d.UserName = cString(p[12+4*MaxGids : dacInfoSize])
		r.Dac = d

	case TagDomainInfo:
		if len(p) < 4 {
			return tlvShort(tag, p)
		}
		apl := cString(p[4:])
		if len(apl) >= APLMaxLen {
			return fmt.Errorf("%w: apl too long", ErrTLVInvalid)
		}
		r.Domain = &DomainInfo{HapFlags: le.Uint32(p), APL: apl}

	case TagOwnerInfo:
		id := cString(p)
		if len(id) >= OwnerIDLen {
			return fmt.Errorf("%w: owner id too long", ErrTLVInvalid)
		}
		r.Owner = &OwnerInfo{ID: id}

	case TagAccessTokenInfo:
		if len(p) < 8 {
			return tlvShort(tag, p)
		}
		r.AccessToken = &AccessToken{TokenIDEx: le.Uint64(p)}

	case TagInternetInfo:
		if len(p) < 2 {
			return tlvShort(tag, p)
		}
		r.Internet = &InternetInfo{SetAllowInternet: p[0], AllowInternet: p[1]}

	case TagRenderTerminationInfo:
		if len(p) < 4 {
			return tlvShort(tag, p)
		}
		r.Termination = &RenderTermination{Pid: int32(le.Uint32(p))}
	}
	return nil
}

func decodeFlags(tag Tag, p []byte) (*Flags, error) {
	if len(p) < 4 {
		return nil, tlvShort(tag, p)
	}
	n := int(le.Uint32(p))
	if n > (len(p)-4)/4 {
		return nil, fmt.Errorf("%w: tag %d declares %d words in %d bytes", ErrTLVInvalid, tag, n, len(p))
	}
	f := &Flags{}
	if n > 0 {
		f.Bits = make([]uint32, n)
	}
	for i := range f.Bits {
		f.Bits[i] = le.Uint32(p[4+4*i:])
	}
	return f, nil
}

func decodeExt(p []byte) (Extension, error) {
	if len(p) < extHeaderSize-tlvHeaderSize {
		return Extension{}, fmt.Errorf("%w: truncated extension", ErrTLVInvalid)
	}
	n := int(le.Uint32(p))
	dataType := le.Uint32(p[4:])
	name := cString(p[8 : 8+TLVNameLen])
	data := p[8+TLVNameLen:]
	if name == "" {
		return Extension{}, fmt.Errorf("%w: extension without name", ErrTLVInvalid)
	}
	if n > len(data) || n > MaxTotalLen {
		return Extension{}, fmt.Errorf("%w: extension %q length %d exceeds %d", ErrTLVInvalid, name, n, len(data))
	}
	return Extension{
		Name:     name,
		DataType: dataType,
		Data:     append([]byte(nil), data[:n]...),
	}, nil
}

func tlvShort(tag Tag, p []byte) error {
	return fmt.Errorf("%w: tag %d payload too short (%d bytes)", ErrTLVInvalid, tag, len(p))
}
