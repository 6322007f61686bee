package hook

import "strconv"

// Stage is a point in the daemon or spawn lifecycle at which hooks run
type Stage int

// Server lifecycle and process change stages
const (
	ServerPreload Stage = iota + 10
	ServerExit
	AppAdd
	AppDied
)

// Parent side spawn stages
const (
	ParentPreFork Stage = iota + 20
	ParentPostFork
	ParentPreReply
	ParentPostReply
)

// Child side spawn stages
const (
	ChildPreColdBoot Stage = iota + 30
	ChildExecute
	ChildPreReply
	ChildPostReply
	ChildPreRun
)

// Hook priorities, lower runs first
const (
	PrioHighest  = 1000
	PrioCommon   = 2000
	PrioSandbox  = 3000
	PrioProperty = 4000
	PrioLowest   = 5000
)

var stageName = map[Stage]string{
	ServerPreload:    "ServerPreload",
	ServerExit:       "ServerExit",
	AppAdd:           "AppAdd",
	AppDied:          "AppDied",
	ParentPreFork:    "ParentPreFork",
	ParentPostFork:   "ParentPostFork",
	ParentPreReply:   "ParentPreReply",
	ParentPostReply:  "ParentPostReply",
	ChildPreColdBoot: "ChildPreColdBoot",
	ChildExecute:     "ChildExecute",
	ChildPreReply:    "ChildPreReply",
	ChildPostReply:   "ChildPostReply",
	ChildPreRun:      "ChildPreRun",
}

func (s Stage) String() string {
	if n, ok := stageName[s]; ok {
		return n
	}
	return "Stage(" + strconv.Itoa(int(s)) + ")"
}

// IsServer reports whether s takes the server calling convention
func (s Stage) IsServer() bool {
	return s >= ServerPreload && s <= ServerExit
}

// IsProcess reports whether s takes the process change calling convention
func (s Stage) IsProcess() bool {
	return s >= AppAdd && s <= AppDied
}

// IsSpawn reports whether s takes the spawn calling convention
func (s Stage) IsSpawn() bool {
	return s >= ParentPreFork && s <= ParentPostReply || s >= ChildPreColdBoot && s <= ChildPreRun
}
