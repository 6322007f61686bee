package daemon

import "fmt"

// Mode is the role the binary runs in
type Mode int

// Modes of the appspawn binary
const (
	ModeAppSpawn Mode = iota
	ModeNWebSpawn
	ModeAppCold
	ModeNWebCold
	ModeChild
)

var modeString = []string{
	"appspawn",
	"nwebspawn",
	"app_cold",
	"nweb_cold",
	"appspawn_child",
}

// ParseMode parses the value of the mode argument
func ParseMode(s string) (Mode, error) {
	for i, n := range modeString {
		if n == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("daemon: unknown mode %q", s)
}

func (m Mode) String() string {
	if int(m) >= 0 && int(m) < len(modeString) {
		return modeString[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// IsServer reports whether the mode serves a socket
func (m Mode) IsServer() bool {
	return m == ModeAppSpawn || m == ModeNWebSpawn
}

// IsCold reports whether the mode is a cold start child
func (m Mode) IsCold() bool {
	return m == ModeAppCold || m == ModeNWebCold
}

// IsNWeb reports whether the mode serves or runs web render processes
func (m Mode) IsNWeb() bool {
	return m == ModeNWebSpawn || m == ModeNWebCold
}
