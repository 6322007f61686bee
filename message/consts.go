package message

// Magic marks the start of every message
const Magic uint32 = 0xEF201234

// Size limits of the wire format
const (
	ProcNameLen   = 256
	HeaderSize    = 5*4 + ProcNameLen
	ResponseSize  = HeaderSize + 8
	MaxTotalLen   = 64 << 10
	MaxTLVCount   = 128
	MaxBlockLen   = 4 << 10
	TLVNameLen    = 32
	BundleNameLen = 256
	MaxGids       = 64
	UserNameLen   = 64
	APLMaxLen     = 32
	OwnerIDLen    = 64
	RenderCmdLen  = 2048

	tlvHeaderSize = 8
	extHeaderSize = tlvHeaderSize + 8 + TLVNameLen
	dacInfoSize   = 3*4 + MaxGids*4 + UserNameLen
)

// DataTypeString marks an extension that carries a NUL terminated string
const DataTypeString uint32 = 1

// Type is the message type
type Type uint32

// Message types
const (
	TypeAppSpawn Type = iota
	TypeGetRenderTerminationStatus
	TypeSpawnNativeProcess
	TypeDump
	TypeBegetCmd
	typeMax
)

var typeString = []string{
	"AppSpawn",
	"GetRenderTerminationStatus",
	"SpawnNativeProcess",
	"Dump",
	"BegetCmd",
}

func (t Type) String() string {
	if t < typeMax {
		return typeString[t]
	}
	return "Invalid"
}

// IsSpawn reports whether the message type creates a process
func (t Type) IsSpawn() bool {
	return t == TypeAppSpawn || t == TypeSpawnNativeProcess || t == TypeBegetCmd
}

// Tag is the TLV record type
type Tag uint32

// TLV tags, TagMax marks a named extension record
const (
	TagBundleInfo Tag = iota
	TagMsgFlags
	TagDacInfo
	TagDomainInfo
	TagOwnerInfo
	TagAccessTokenInfo
	TagPermission
	TagInternetInfo
	TagRenderTerminationInfo
	TagMax
)

// Flag indexes inside the MsgFlags bitset
const (
	FlagColdBoot         = 0
	FlagBackupExtension  = 1
	FlagDLPManager       = 2
	FlagDebuggable       = 3
	FlagASanEnabled      = 4
	FlagAccessBundleDir  = 5
	FlagNativeDebug      = 6
	FlagNoSandbox        = 7
	FlagOverlay          = 8
	FlagBundleResources  = 9
	FlagGWPEnabledForce  = 10
	FlagGWPEnabledNormal = 11
	FlagTSanEnabled      = 12
	FlagIgnoreSandbox    = 13
	FlagIsolatedSandbox  = 14
	FlagExtensionSandbox = 15
	FlagCloneEnable      = 16
	FlagDeveloperMode    = 17
	FlagBegetctlBoot     = 18
	FlagAtomicService    = 19
	MaxFlagIndex         = 63
)

// Extension record names
const (
	ExtRenderCmd = "render-cmd"
	ExtHspList   = "HspList"
	ExtOverlay   = "Overlay"
	ExtDataGroup = "DataGroup"
	ExtAppEnv    = "AppEnv"
	ExtBegetPid  = "AppPid"
	ExtPtyName   = "ptyName"
	ExtAccountID = "AccountId"
	// ExtDumpTarget names the terminal a dump request is written to
	ExtDumpTarget = "pty-name"
)

func align(n int) int {
	return (n + 3) &^ 3
}
