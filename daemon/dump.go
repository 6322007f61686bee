package daemon

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/criyle/go-appspawn/hook"
	"github.com/criyle/go-appspawn/message"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// dumpRequest writes the dump to the terminal named by the pty-name
// extension of the request, or to the log when the request has none
func (m *Mgr) dumpRequest(req *message.Request) {
	if path, ok := req.ExtString(message.ExtDumpTarget); ok && path != "" {
		err := m.dumpTo(path)
		if err == nil {
			return
		}
		m.Logger.Warn("failed to open dump target", "path", path, "error", err)
	}
	var buf bytes.Buffer
	m.Dump(&buf)
	s := bufio.NewScanner(&buf)
	for s.Scan() {
		m.Logger.Info("dump", "line", s.Text())
	}
}

// dumpTo writes the dump to an existing file under DumpDir
func (m *Mgr) dumpTo(path string) error {
	dir := strings.TrimSuffix(m.DumpDir, "/") + "/"
	if !strings.HasPrefix(path, dir) || strings.Contains(path, "..") {
		return fmt.Errorf("dump target outside of %s", dir)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|unix.O_NOCTTY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	m.Dump(f)
	return nil
}

// Dump writes the state of the daemon in a human readable form
func (m *Mgr) Dump(w io.Writer) {
	now := time.Now()
	fmt.Fprintf(w, "appspawn mode=%v pid=%d started %s\n", m.Mode, os.Getpid(),
		humanize.RelTime(m.started, now, "ago", "from now"))
	if m.helper > 0 {
		fmt.Fprintf(w, "secondary service pid=%d\n", m.helper)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	ids := make([]uint32, 0, len(m.ctxs))
	for id := range m.ctxs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Fprintf(w, "spawning queue: %d\n", len(ids))
	if len(ids) > 0 {
		fmt.Fprintln(tw, "  ID\tPID\tSTATE\tPROCESS\tBUNDLE\tAGE")
		for _, id := range ids {
			c := m.ctxs[id]
			fmt.Fprintf(tw, "  %d\t%d\t%v\t%s\t%s\t%v\n", c.ID, c.Pid, c.State,
				c.ProcessName(), c.BundleName(), now.Sub(c.Start).Round(time.Millisecond))
		}
		tw.Flush()
	}

	pids := make([]int, 0, len(m.procs))
	for pid := range m.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	fmt.Fprintf(w, "app queue: %d\n", len(pids))
	if len(pids) > 0 {
		fmt.Fprintln(tw, "  PID\tUID\tPROCESS\tBUNDLE\tSPAWN\tSTARTED")
		for _, pid := range pids {
			p := m.procs[pid]
			name := p.Name
			if p.Helper {
				name += " (secondary)"
			}
			fmt.Fprintf(tw, "  %d\t%d\t%s\t%s\t%v\t%s\n", p.Pid, p.UID, name, p.Bundle,
				p.SpawnTime.Round(time.Microsecond), humanize.RelTime(p.Started, now, "ago", "from now"))
		}
		tw.Flush()
	}

	fmt.Fprintf(w, "died queue: %d/%d\n", len(m.died.procs), m.died.size)
	if len(m.died.procs) > 0 {
		fmt.Fprintln(tw, "  PID\tUID\tPROCESS\tSTATUS\tENDED")
		for _, p := range m.died.procs {
			fmt.Fprintf(tw, "  %d\t%d\t%s\t%s\t%s\n", p.Pid, p.UID, p.Name, statusString(p.Status),
				humanize.RelTime(p.Ended, now, "ago", "from now"))
		}
		tw.Flush()
	}

	stats := m.Hooks.Stats()
	if len(stats) > 0 {
		fmt.Fprintln(w, "hook stages:")
		stages := make([]int, 0, len(stats))
		for s := range stats {
			stages = append(stages, int(s))
		}
		sort.Ints(stages)
		for _, s := range stages {
			st := stats[hook.Stage(s)]
			avg := time.Duration(0)
			if st.Runs > 0 {
				avg = st.Total / time.Duration(st.Runs)
			}
			fmt.Fprintf(tw, "  %v\truns=%s\tavg=%v\tlast=%v\n", hook.Stage(s),
				humanize.Comma(int64(st.Runs)), avg, st.Last)
		}
		tw.Flush()
	}

	for _, d := range m.dumpers {
		fmt.Fprintf(w, "%s:\n", d.Name())
		var buf bytes.Buffer
		d.Dump(&buf)
		for _, l := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}
