// Command appspawnctl sends requests to a running appspawn daemon.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/criyle/go-appspawn/client"
	"github.com/criyle/go-appspawn/config"
	"github.com/criyle/go-appspawn/message"
	"github.com/criyle/go-appspawn/types"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"spawn", "spawn an application process", runSpawn},
	{"dump", "dump the daemon state", runDump},
	{"status", "query the termination status of a render process", runStatus},
	{"shell", "start a debug shell in the sandbox of an application", runShell},
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printHelp()
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(args[1:])
		}
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func printHelp() {
	fmt.Fprintf(os.Stderr, "Usage: appspawnctl <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.usage)
	}
}

// connection holds the flags shared by all commands
type connection struct {
	socket  string
	nweb    bool
	timeout time.Duration
}

func (c *connection) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.socket, "socket", "", "daemon socket path (default: from the built in configuration)")
	fs.BoolVar(&c.nweb, "nweb", false, "talk to the nwebspawn socket")
	fs.DurationVar(&c.timeout, "timeout", client.DefaultTimeout, "response timeout")
}

func (c *connection) send(r *client.Request) (types.Result, error) {
	path := c.socket
	if path == "" {
		cfg := config.Default()
		name := cfg.AppSpawnSocket
		if c.nweb {
			name = cfg.NWebSpawnSocket
		}
		path = cfg.SocketPath(name)
	}
	cl, err := client.Dial(path)
	if err != nil {
		return types.Result{}, err
	}
	defer cl.Close()
	cl.Timeout = c.timeout
	return cl.Send(r)
}

func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return false, nil
		}
		return false, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return true, nil
}

func runSpawn(args []string) error {
	var (
		conn      connection
		process   string
		bundle    string
		uid, gid  uint32
		cold      bool
		native    bool
		flags     []uint
		env       string
		renderCmd string
		ownerID   string
	)
	fs := pflag.NewFlagSet("spawn", pflag.ContinueOnError)
	conn.addFlags(fs)
	fs.StringVarP(&process, "process", "p", "", "process name")
	fs.StringVarP(&bundle, "bundle", "b", "", "bundle name (default: the process name)")
	fs.Uint32Var(&uid, "uid", 0, "uid of the child")
	fs.Uint32Var(&gid, "gid", 0, "gid of the child")
	fs.BoolVar(&cold, "cold", false, "request a cold start")
	fs.BoolVar(&native, "native", false, "spawn a native process running --render-cmd")
	fs.UintSliceVar(&flags, "flag", nil, "additional message flag indexes")
	fs.StringVar(&env, "env", "", "AppEnv extension, a JSON object")
	fs.StringVar(&renderCmd, "render-cmd", "", "command line of a native or render process")
	fs.StringVar(&ownerID, "owner", "", "owner id")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if process == "" {
		return fmt.Errorf("--process is required")
	}
	if bundle == "" {
		bundle = process
	}

	r := client.NewSpawnRequest(process, bundle, uid, gid)
	if native {
		r.Message().Type = message.TypeSpawnNativeProcess
	}
	if cold {
		r.SetFlag(message.FlagColdBoot)
	}
	for _, f := range flags {
		if f > message.MaxFlagIndex {
			return fmt.Errorf("flag index %d out of range", f)
		}
		r.SetFlag(uint32(f))
	}
	if env != "" {
		r.AddStringExtension(message.ExtAppEnv, env)
	}
	if renderCmd != "" {
		r.AddStringExtension(message.ExtRenderCmd, renderCmd)
	}
	if ownerID != "" {
		r.SetOwnerID(ownerID)
	}
	return report(conn.send(r))
}

func runDump(args []string) error {
	var (
		conn connection
		out  string
	)
	fs := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	conn.addFlags(fs)
	fs.StringVarP(&out, "out", "o", "", "terminal under /dev/pts the daemon writes the dump to (default: the daemon log)")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	r := client.NewRequest(message.TypeDump, "dump")
	if out != "" {
		r.AddStringExtension(message.ExtDumpTarget, out)
	}
	return report(conn.send(r))
}

func runStatus(args []string) error {
	var (
		conn connection
		pid  int
	)
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	conn.addFlags(fs)
	fs.IntVar(&pid, "pid", 0, "pid of the render process")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if !fs.Changed("nweb") && conn.socket == "" {
		conn.nweb = true
	}
	r := client.NewRequest(message.TypeGetRenderTerminationStatus, "status").SetTerminationPid(pid)
	res, err := conn.send(r)
	if err != nil {
		return err
	}
	fmt.Printf("pid %d: status %d\n", pid, int32(res.Code))
	return nil
}

func runShell(args []string) error {
	var (
		conn     connection
		process  string
		bundle   string
		uid, gid uint32
		pid      int
		pty      string
	)
	fs := pflag.NewFlagSet("shell", pflag.ContinueOnError)
	conn.addFlags(fs)
	fs.StringVarP(&process, "process", "p", "", "process name of the target application")
	fs.StringVarP(&bundle, "bundle", "b", "", "bundle name (default: the process name)")
	fs.Uint32Var(&uid, "uid", 0, "uid of the shell")
	fs.Uint32Var(&gid, "gid", 0, "gid of the shell")
	fs.IntVar(&pid, "pid", 0, "pid of the target application")
	fs.StringVar(&pty, "pty", "", "pseudo terminal the shell runs on, under /dev/pts")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if process == "" || pty == "" {
		return fmt.Errorf("--process and --pty are required")
	}
	if bundle == "" {
		bundle = process
	}
	r := client.NewSpawnRequest(process, bundle, uid, gid).
		SetFlag(message.FlagBegetctlBoot).
		AddStringExtension(message.ExtBegetPid, strconv.Itoa(pid)).
		AddStringExtension(message.ExtPtyName, pty)
	r.Message().Type = message.TypeBegetCmd
	return report(conn.send(r))
}

func report(res types.Result, err error) error {
	if err != nil {
		return err
	}
	if res.Code != types.OK {
		return res.Code
	}
	if res.Pid > 0 {
		fmt.Printf("pid %d\n", res.Pid)
	} else {
		fmt.Println("ok")
	}
	return nil
}
