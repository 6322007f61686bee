package hook

import (
	"errors"
	"reflect"
	"testing"

	"github.com/criyle/go-appspawn/types"
)

type (
	testMgr  struct{ trace []string }
	testCtx  struct{ name string }
	testProc struct{ pid int }
)

type testRegistry = Registry[*testMgr, *testCtx, *testProc]

func newTestRegistry() *testRegistry {
	return New[*testMgr, *testCtx, *testProc](nil)
}

func record(name string, err error) SpawnFunc[*testMgr, *testCtx] {
	return func(m *testMgr, c *testCtx) error {
		m.trace = append(m.trace, name)
		return err
	}
}

func TestPriorityOrder(t *testing.T) {
	r := newTestRegistry()
	r.AddSpawn(ChildExecute, PrioProperty, "property", record("property", nil))
	r.AddSpawn(ChildExecute, PrioHighest, "highest", record("highest", nil))
	r.AddSpawn(ChildExecute, PrioSandbox, "sandbox", record("sandbox", nil))
	r.AddSpawn(ChildExecute, PrioSandbox, "sandbox2", record("sandbox2", nil))

	m := new(testMgr)
	if err := r.ExecuteSpawn(ChildExecute, StopOnError, m, &testCtx{}); err != nil {
		t.Fatal(err)
	}
	want := []string{"highest", "sandbox", "sandbox2", "property"}
	if !reflect.DeepEqual(m.trace, want) {
		t.Errorf("trace = %v, want %v", m.trace, want)
	}
	if !reflect.DeepEqual(r.Names(ChildExecute), want) {
		t.Errorf("names = %v", r.Names(ChildExecute))
	}
}

func TestStopOnError(t *testing.T) {
	errHook := types.SandboxMountFail
	tests := []struct {
		name  string
		opt   Options
		trace []string
	}{
		{"stop", StopOnError, []string{"a", "b"}},
		{"continue", Options{}, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			r.AddSpawn(ParentPreFork, 1, "a", record("a", nil))
			r.AddSpawn(ParentPreFork, 2, "b", record("b", errHook))
			r.AddSpawn(ParentPreFork, 3, "c", record("c", errors.New("later")))
			m := new(testMgr)
			err := r.ExecuteSpawn(ParentPreFork, tt.opt, m, &testCtx{})
			if err != errHook {
				t.Errorf("err = %v, want the first failure unchanged", err)
			}
			if !reflect.DeepEqual(m.trace, tt.trace) {
				t.Errorf("trace = %v, want %v", m.trace, tt.trace)
			}
		})
	}
}

func TestNoHooks(t *testing.T) {
	r := newTestRegistry()
	if err := r.ExecuteSpawn(ChildPreRun, StopOnError, new(testMgr), &testCtx{}); err != nil {
		t.Errorf("empty stage returned %v", err)
	}
	if err := r.ExecuteServer(ServerExit, new(testMgr)); err != nil {
		t.Errorf("empty stage returned %v", err)
	}
}

func TestStageRange(t *testing.T) {
	r := newTestRegistry()
	called := 0
	r.AddServer(ServerPreload, PrioCommon, "s", func(m *testMgr) error { called++; return nil })
	r.AddSpawn(ParentPreFork, PrioCommon, "p", func(m *testMgr, c *testCtx) error { called++; return nil })
	r.AddProcess(AppAdd, PrioCommon, "a", func(m *testMgr, p *testProc) error { called++; return nil })

	m := new(testMgr)
	checks := []struct {
		name string
		err  error
	}{
		{"server with spawn stage", r.ExecuteServer(ParentPreFork, m)},
		{"server with process stage", r.ExecuteServer(AppAdd, m)},
		{"spawn with server stage", r.ExecuteSpawn(ServerPreload, StopOnError, m, &testCtx{})},
		{"spawn out of range", r.ExecuteSpawn(Stage(25), StopOnError, m, &testCtx{})},
		{"spawn past max", r.ExecuteSpawn(ChildPreRun+1, StopOnError, m, &testCtx{})},
		{"process with spawn stage", r.ExecuteProcess(ParentPreFork, m, &testProc{})},
		{"add server at child stage", r.AddServer(ChildExecute, 0, "x", func(m *testMgr) error { return nil })},
		{"add spawn at server stage", r.AddSpawn(ServerExit, 0, "x", func(m *testMgr, c *testCtx) error { return nil })},
		{"add process at server stage", r.AddProcess(ServerPreload, 0, "x", func(m *testMgr, p *testProc) error { return nil })},
		{"add nil", r.AddSpawn(ChildExecute, 0, "x", nil)},
	}
	for _, c := range checks {
		if types.Code(c.err) != types.ArgInvalid {
			t.Errorf("%s: got %v, want ArgInvalid", c.name, c.err)
		}
	}
	if called != 0 {
		t.Errorf("%d hooks ran for invalid stages", called)
	}
}

func TestProcessRunsAll(t *testing.T) {
	r := newTestRegistry()
	var pids []int
	r.AddProcess(AppDied, 1, "a", func(m *testMgr, p *testProc) error {
		pids = append(pids, p.pid)
		return types.SystemError
	})
	r.AddProcess(AppDied, 2, "b", func(m *testMgr, p *testProc) error {
		pids = append(pids, -p.pid)
		return nil
	})
	err := r.ExecuteProcess(AppDied, new(testMgr), &testProc{pid: 5})
	if err != types.SystemError {
		t.Errorf("err = %v", err)
	}
	if !reflect.DeepEqual(pids, []int{5, -5}) {
		t.Errorf("pids = %v", pids)
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry()
	r.AddSpawn(ParentPreFork, 1, "a", record("a", types.SystemError))
	m := new(testMgr)
	r.ExecuteSpawn(ParentPreFork, StopOnError, m, &testCtx{})
	r.ExecuteSpawn(ParentPreFork, StopOnError, m, &testCtx{})
	st := r.Stats()[ParentPreFork]
	if st.Runs != 2 {
		t.Errorf("runs = %d", st.Runs)
	}
	if _, ok := r.Stats()[ChildExecute]; ok {
		t.Error("stats recorded for an empty stage")
	}
}

func TestStageString(t *testing.T) {
	if ChildPreRun.String() != "ChildPreRun" || Stage(99).String() != "Stage(99)" {
		t.Errorf("unexpected names %v %v", ChildPreRun, Stage(99))
	}
	if ChildPreRun != 34 || ParentPostReply != 23 || AppDied != 13 {
		t.Error("stage numbering changed")
	}
}
