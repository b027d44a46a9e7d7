package pinjector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const ptrBits = 32 << (^uintptr(0) >> 63)

// Options configures an Injector.
type Options struct {
	// LoaderModule and LoaderSymbol name the library-loading function run
	// remotely with the duplicated module path as its argument.
	LoaderModule string
	LoaderSymbol string
	// Encode must produce the string form LoaderSymbol expects.
	Encode StringEncoder
	// Resolver locates both the loader function and the entry point. It
	// has no default: it must be able to find LoaderModule, which depends
	// on the platform (see winsys.DefaultOptions).
	Resolver Resolver
	Logger   logrus.FieldLogger
}

// DefaultOptions loads modules through kernel32!LoadLibraryW. Resolver is
// left for the caller to set.
func DefaultOptions() Options {
	return Options{
		LoaderModule: "kernel32.dll",
		LoaderSymbol: "LoadLibraryW",
		Encode:       UTF16String,
		Logger:       logrus.StandardLogger(),
	}
}

func (o Options) Validate() error {
	if o.LoaderModule == "" || o.LoaderSymbol == "" {
		return Errorf(InvalidArgument, "loader module and symbol are required")
	}
	if o.Encode == nil {
		return Errorf(InvalidArgument, "string encoder is required")
	}
	if o.Resolver == nil {
		return Errorf(InvalidArgument, "resolver is required")
	}
	return nil
}

// Injector loads a module into one target process and runs one of its
// exports there. Calls on one Injector are serialised; separate Injectors
// for the same target are not coordinated.
type Injector struct {
	proc Process
	opts Options
	log  logrus.FieldLogger

	mu    sync.Mutex
	state atomic.Int32
}

// New returns an Injector for p. Zero-valued option fields other than
// Resolver are taken from DefaultOptions.
func New(p Process, opts Options) (*Injector, error) {
	if p == nil {
		return nil, Errorf(InvalidArgument, "nil process")
	}
	def := DefaultOptions()
	if opts.LoaderModule == "" {
		opts.LoaderModule = def.LoaderModule
	}
	if opts.LoaderSymbol == "" {
		opts.LoaderSymbol = def.LoaderSymbol
	}
	if opts.Encode == nil {
		opts.Encode = def.Encode
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Injector{
		proc: p,
		opts: opts,
		log:  opts.Logger.WithField("pid", p.PID()),
	}, nil
}

// State reports the progress of the running attempt, or where the last
// one ended. It does not wait for a running attempt.
func (in *Injector) State() State {
	return State(in.state.Load())
}

func (in *Injector) setState(s State) {
	in.state.Store(int32(s))
	in.log.WithField("state", s).Debug("injector state")
}

func (in *Injector) fail(phase Phase, err error) error {
	in.setState(Failed)
	err = phaseError(phase, err)
	in.log.WithField("phase", phase).WithError(err).Error("injection failed")
	return err
}

// LoadModule runs the loader function inside the target with modulePath
// and returns the module's remote base in Result.Module.
func (in *Injector) LoadModule(modulePath string, timeout time.Duration) (Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.setState(Idle)

	var res Result
	base, warnings, err := in.loadModule(modulePath, timeout)
	res.Warnings = warnings
	if err != nil {
		return res, in.fail(PhaseLoad, err)
	}
	res.Module = base
	in.setState(ModuleLoaded)
	return res, nil
}

// Inject loads modulePath into the target, resolves symbol in it and runs
// it remotely with a zero argument. Each of the two remote calls may take
// up to timeout. Success is reported only when the entry point returns a
// non-zero value.
func (in *Injector) Inject(modulePath, symbol string, timeout time.Duration) (Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.setState(Idle)

	var res Result
	if symbol == "" {
		return res, in.fail(PhaseResolve, Errorf(InvalidArgument, "empty symbol name"))
	}
	log := in.log.WithFields(logrus.Fields{"module": modulePath, "symbol": symbol})

	base, warnings, err := in.loadModule(modulePath, timeout)
	res.Warnings = warnings
	if err != nil {
		return res, in.fail(PhaseLoad, err)
	}
	in.setState(ModuleLoaded)

	in.setState(ResolvingEntry)
	off, err := in.opts.Resolver.Resolve(modulePath, symbol)
	if err != nil {
		return res, in.fail(PhaseResolve, err)
	}
	entry := off.At(base)
	log.Debugf("entry point at 0x%x (base 0x%x + 0x%x)", entry, base, uintptr(off))

	in.setState(Invoking)
	code, err := in.call(entry, 0, timeout)
	if err != nil {
		return res, in.fail(PhaseInvoke, err)
	}
	if code == 0 {
		return res, in.fail(PhaseInvoke, Errorf(EntryPointFailed, "%s returned 0", symbol))
	}

	res.Module = base
	res.EntryResult = code
	in.setState(Completed)
	log.WithField("result", code).Info("entry point completed")
	return res, nil
}

func (in *Injector) loadModule(modulePath string, timeout time.Duration) (uintptr, []error, error) {
	if modulePath == "" {
		return 0, nil, Errorf(InvalidArgument, "empty module path")
	}
	in.setState(LoadingModule)

	loader, err := in.loaderAddress()
	if err != nil {
		return 0, nil, err
	}

	var warnings []error
	str, err := DuplicateString(in.proc, modulePath, in.opts.Encode)
	if err != nil {
		return 0, nil, err
	}
	if str.Warning != nil {
		in.log.WithError(str.Warning).Warn("module path write failed, calling loader anyway")
		warnings = append(warnings, str.Warning)
	}

	code, err := in.call(loader, str.Region.Addr, timeout)
	if err != nil {
		return 0, warnings, err
	}
	if code == 0 && ptrBits == 32 {
		return 0, warnings, Errorf(InjectionFailed, "%s(%q) returned NULL", in.opts.LoaderSymbol, modulePath)
	}

	// The exit code holds only the low 32 bits of the module handle, so a
	// zero code is also what a module based at a multiple of 4GB returns.
	base, err := in.proc.ModuleBase(modulePath)
	if err != nil {
		if code == 0 {
			return 0, warnings, Errorf(InjectionFailed, "%s(%q) returned NULL", in.opts.LoaderSymbol, modulePath)
		}
		if ptrBits == 32 {
			return uintptr(code), warnings, nil
		}
		return 0, warnings, Wrap(InjectionFailed, err, "loaded module not found in target")
	}
	if uint32(base) != code {
		return 0, warnings, Errorf(InjectionFailed, "module found at 0x%x but loader returned 0x%x", base, code)
	}
	in.log.WithField("module", modulePath).Debugf("module loaded at 0x%x", base)
	return base, warnings, nil
}

// loaderAddress finds the loader function inside this target from the
// target's own loader module base.
func (in *Injector) loaderAddress() (uintptr, error) {
	base, err := in.proc.ModuleBase(in.opts.LoaderModule)
	if err != nil {
		return 0, err
	}
	off, err := in.opts.Resolver.Resolve(in.opts.LoaderModule, in.opts.LoaderSymbol)
	if err != nil {
		return 0, err
	}
	return off.At(base), nil
}

// call runs entry(arg) in the target and returns the thread's exit code.
// A thread that outlives timeout is left running.
func (in *Injector) call(entry, arg uintptr, timeout time.Duration) (uint32, error) {
	th, err := in.proc.SpawnThread(entry, arg)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := th.Close(); cerr != nil {
			in.log.WithError(cerr).Warn("closing remote thread handle")
		}
	}()

	status, err := th.Wait(timeout)
	switch status {
	case WaitExited:
		return th.ExitCode()
	case WaitTimedOut:
		return 0, Errorf(Timeout, "remote thread at 0x%x still running after %s", entry, timeout)
	default:
		return 0, Wrap(OperationFailed, err, "wait for remote thread")
	}
}
