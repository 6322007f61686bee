package types

import "fmt"

// Result is the response body for a request: the result code and the pid
// of the spawned process when the spawn succeeded
type Result struct {
	Code ErrCode
	Pid  int
}

func (r Result) String() string {
	if r.Code == OK {
		return fmt.Sprintf("Result[pid=%d]", r.Pid)
	}
	return fmt.Sprintf("Result[%v(%#x)]", r.Code, int32(r.Code))
}
