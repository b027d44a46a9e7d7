package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/r0lh/modinject/pinjector"
	"github.com/r0lh/modinject/winsys"
)

type injectConfig struct {
	pid     int32
	name    string
	module  string
	entry   string
	timeout time.Duration
	ansi    bool
}

// options returns the injector options for the loader entry point cfg
// selects.
func (c *injectConfig) options() pinjector.Options {
	opts := winsys.DefaultOptions()
	if c.ansi {
		opts.LoaderSymbol = "LoadLibraryA"
		opts.Encode = pinjector.ANSIString
	}
	opts.Logger = logrus.WithField("cmd", "inject")
	return opts
}

func (c *injectConfig) validate() error {
	if c.pid < 1 && c.name == "" {
		return errors.New("use --pid or --name to pick the target")
	}
	if c.pid > 0 && c.name != "" {
		return errors.New("--pid and --name are mutually exclusive")
	}
	if c.module == "" || c.entry == "" {
		return errors.New("use --module and --entry")
	}
	if c.timeout < 0 {
		return errors.New("--timeout must not be negative")
	}
	return nil
}

func newInjectCmd() *cobra.Command {
	cfg := &injectConfig{}
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Load --module into the target and run its --entry export",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runInject(cmd, cfg)
		},
	}
	f := cmd.Flags()
	f.Int32VarP(&cfg.pid, "pid", "p", 0, "pid to inject")
	f.StringVarP(&cfg.name, "name", "n", "", "executable name of the process to inject")
	f.StringVarP(&cfg.module, "module", "m", "", "path to the module to load")
	f.StringVarP(&cfg.entry, "entry", "e", "", "exported function to run after loading")
	f.DurationVarP(&cfg.timeout, "timeout", "t", winsys.DefaultTimeout, "limit for each remote call")
	f.BoolVar(&cfg.ansi, "ansi", false, "pass the module path to LoadLibraryA instead of LoadLibraryW")
	return cmd
}

func runInject(cmd *cobra.Command, cfg *injectConfig) error {
	pid, err := findTarget(cfg.pid, cfg.name)
	if err != nil {
		return err
	}
	// the target resolves relative paths against its own directory
	module, err := filepath.Abs(cfg.module)
	if err != nil {
		return errors.Wrap(err, "can't resolve module path")
	}

	proc, err := winsys.Open(uint32(pid))
	if err != nil {
		return err
	}
	defer proc.Close()

	in, err := pinjector.New(proc, cfg.options())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[-] Input PID: %v\n", pid)
	fmt.Fprintf(out, "[-] Input module: %v\n", module)
	res, err := in.Inject(module, cfg.entry, cfg.timeout)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "[!] WARNING : %v\n", w)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[+] Module handle: 0x%x\n", res.Module)
	fmt.Fprintf(out, "[+] %s returned: 0x%x\n", cfg.entry, res.EntryResult)
	return nil
}

// findTarget checks that pid is running, or looks up the first process
// whose executable is named name.
func findTarget(pid int32, name string) (int32, error) {
	if pid > 0 {
		ok, err := process.PidExists(pid)
		if err != nil {
			return 0, errors.Wrapf(err, "can't check pid %d", pid)
		}
		if !ok {
			return 0, errors.Errorf("no process with pid %d", pid)
		}
		return pid, nil
	}
	procs, err := process.Processes()
	if err != nil {
		return 0, errors.Wrap(err, "can't list processes")
	}
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(n, name) {
			return p.Pid, nil
		}
	}
	return 0, errors.Errorf("no process named %s", name)
}

func newResolveCmd() *cobra.Command {
	var module, entry string
	var offline bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the offset of --entry from the base of --module",
		RunE: func(cmd *cobra.Command, args []string) error {
			if module == "" || entry == "" {
				return errors.New("use --module and --entry")
			}
			r := winsys.DefaultOptions().Resolver
			if offline {
				r = pinjector.FileResolver{Dir: winsys.SystemDir()}
			}
			off, err := r.Resolve(module, entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[+] %s!%s offset: 0x%x\n", filepath.Base(module), entry, uintptr(off))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&module, "module", "m", "", "path to the module")
	f.StringVarP(&entry, "entry", "e", "", "exported function name")
	f.BoolVar(&offline, "offline", false, "read the export table from the file instead of mapping the module")
	return cmd
}
