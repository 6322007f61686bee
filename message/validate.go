package message

import (
	"strings"

	"github.com/criyle/go-appspawn/types"
)

var mandatory = map[Type][]Tag{
	TypeAppSpawn:                   {TagBundleInfo, TagMsgFlags, TagAccessTokenInfo, TagDacInfo},
	TypeSpawnNativeProcess:         {TagBundleInfo, TagMsgFlags, TagAccessTokenInfo, TagDacInfo},
	TypeBegetCmd:                   {TagBundleInfo, TagMsgFlags, TagAccessTokenInfo, TagDacInfo},
	TypeGetRenderTerminationStatus: {TagRenderTerminationInfo},
	TypeDump:                       {},
}

func (r *Request) has(tag Tag) bool {
	switch tag {
	case TagBundleInfo:
		return r.Bundle != nil
	case TagMsgFlags:
		return r.Flags != nil
	case TagDacInfo:
		return r.Dac != nil
	case TagDomainInfo:
		return r.Domain != nil
	case TagOwnerInfo:
		return r.Owner != nil
	case TagAccessTokenInfo:
		return r.AccessToken != nil
	case TagPermission:
		return r.Permission != nil
	case TagInternetInfo:
		return r.Internet != nil
	case TagRenderTerminationInfo:
		return r.Termination != nil
	}
	return false
}

// Validate checks the message type specific mandatory fields. The returned
// error carries a types.ErrCode to be reported to the client.
func Validate(r *Request) error {
	tags, ok := mandatory[r.Type]
	if !ok {
		return types.Errorf(types.MsgInvalid, "message: unknown type %d", uint32(r.Type))
	}
	for _, t := range tags {
		if !r.has(t) {
			return types.Errorf(types.MsgInvalid, "message: %v missing tag %d", r.Type, t)
		}
	}
	if !r.Type.IsSpawn() {
		return nil
	}
	if r.ProcessName == "" {
		return types.Errorf(types.ArgInvalid, "message: empty process name")
	}
	if n := r.Bundle.Name; n == "" || strings.ContainsAny(n, `/\`) || n == "." || n == ".." {
		return types.Errorf(types.ArgInvalid, "message: invalid bundle name %q", n)
	}
	if r.Type == TypeBegetCmd {
		if !r.HasFlag(FlagBegetctlBoot) {
			return types.Errorf(types.ArgInvalid, "message: beget command without begetctl flag")
		}
		if _, ok := r.Ext(ExtBegetPid); !ok {
			return types.Errorf(types.MsgInvalid, "message: beget command missing %s", ExtBegetPid)
		}
		if _, ok := r.Ext(ExtPtyName); !ok {
			return types.Errorf(types.MsgInvalid, "message: beget command missing %s", ExtPtyName)
		}
	}
	return nil
}
