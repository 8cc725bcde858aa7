// Package commands implements the registry of named commands and functions
// that scripts can invoke.
//
// A command performs an action and reports an integer status; a function
// additionally produces a string result. Commands take either a list of
// words or a single boolean. Every entry carries an opaque cookie that is
// passed back to its hook on each call.
package commands

import (
	"fmt"
	"log"
	"reflect"

	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/symtab"
	"github.com/lemonberrylabs/amend/pkg/types"
)

// ArgumentType describes how a command receives its arguments.
type ArgumentType int

const (
	ArgsUnknown ArgumentType = iota - 1
	ArgsBoolean
	ArgsWords
)

func (a ArgumentType) String() string {
	switch a {
	case ArgsBoolean:
		return "BOOLEAN"
	case ArgsWords:
		return "WORDS"
	default:
		return "UNKNOWN"
	}
}

// Kind separates the command and function namespaces. It is used as the
// symbol table flags value.
type Kind int

const (
	KindCommand Kind = iota
	KindFunction
)

func (k Kind) String() string {
	if k == KindFunction {
		return "function"
	}
	return "command"
}

// CommandHook is the native implementation of a command. For boolean
// commands argv is nil and argc is 1 for true or 0 for false.
type CommandHook interface {
	Invoke(name string, cookie any, argc int, argv []string) int
}

// CommandFunc adapts a plain function to CommandHook.
type CommandFunc func(name string, cookie any, argc int, argv []string) int

// Invoke calls f.
func (f CommandFunc) Invoke(name string, cookie any, argc int, argv []string) int {
	return f(name, cookie, argc, argv)
}

// FunctionHook is the native implementation of a function.
type FunctionHook interface {
	Invoke(name string, cookie any, argc int, argv []string) (int, string)
}

// FunctionFunc adapts a plain function to FunctionHook.
type FunctionFunc func(name string, cookie any, argc int, argv []string) (int, string)

// Invoke calls f.
func (f FunctionFunc) Invoke(name string, cookie any, argc int, argv []string) (int, string) {
	return f(name, cookie, argc, argv)
}

// PermissionProber is implemented by hooks that can describe the
// filesystem access they would perform without performing it. A nil
// element of argv is a value that is only known at run time.
type PermissionProber interface {
	ProbePermissions(name string, cookie any, argc int, argv []*string, perms *permissions.RequestList) int
}

// ProbeFunc adapts a plain function to PermissionProber.
type ProbeFunc func(name string, cookie any, argc int, argv []*string, perms *permissions.RequestList) int

// ProbePermissions calls f.
func (f ProbeFunc) ProbePermissions(name string, cookie any, argc int, argv []*string, perms *permissions.RequestList) int {
	return f(name, cookie, argc, argv, perms)
}

type probedCommand struct {
	CommandFunc
	ProbeFunc
}

type probedFunction struct {
	FunctionFunc
	ProbeFunc
}

// WithProbe pairs a command with its permission probe. It returns nil
// when fn is nil.
func WithProbe(fn CommandFunc, probe ProbeFunc) CommandHook {
	if fn == nil {
		return nil
	}
	if probe == nil {
		return fn
	}
	return probedCommand{fn, probe}
}

// WithFunctionProbe pairs a function with its permission probe. It
// returns nil when fn is nil.
func WithFunctionProbe(fn FunctionFunc, probe ProbeFunc) FunctionHook {
	if fn == nil {
		return nil
	}
	if probe == nil {
		return fn
	}
	return probedFunction{fn, probe}
}

// Handle is a resolved registry entry.
type Handle struct {
	name     string
	cookie   any
	kind     Kind
	argType  ArgumentType
	command  CommandHook
	function FunctionHook
}

func (h *Handle) Name() string               { return h.name }
func (h *Handle) Kind() Kind                 { return h.kind }
func (h *Handle) ArgumentType() ArgumentType { return h.argType }
func (h *Handle) Cookie() any                { return h.cookie }

func (h *Handle) prober() PermissionProber {
	var hook any = h.command
	if h.kind == KindFunction {
		hook = h.function
	}
	if p, ok := hook.(PermissionProber); ok {
		return p
	}
	return nil
}

// Registry maps names to hooks. It must be initialized before use, either
// with New or by calling Init on the zero value. A Registry is not safe for
// concurrent use.
type Registry struct {
	table       *symtab.Table
	initialized bool
	logger      *log.Logger
}

// New returns an initialized registry.
func New() (*Registry, error) {
	r := &Registry{}
	if err := r.Init(); err != nil {
		return nil, err
	}
	return r, nil
}

// Init allocates the registry's symbol table.
func (r *Registry) Init() error {
	if r.initialized {
		return types.NewRegistrationError("", "registry already initialized")
	}
	r.table = symtab.New()
	r.initialized = true
	return nil
}

// Cleanup releases every entry. Calling it on an uninitialized registry
// does nothing.
func (r *Registry) Cleanup() {
	if !r.initialized {
		return
	}
	r.initialized = false
	r.table.Close()
	r.table = nil
}

// SetLogger enables dispatch tracing. A nil logger disables it.
func (r *Registry) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Registry) tracef(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// nilHook reports whether hook is nil, including a nil func or pointer
// stored in the interface.
func nilHook(hook any) bool {
	switch h := hook.(type) {
	case nil:
		return true
	case probedCommand:
		return h.CommandFunc == nil
	case probedFunction:
		return h.FunctionFunc == nil
	}
	v := reflect.ValueOf(hook)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (r *Registry) register(name string, kind Kind, argType ArgumentType, cmd CommandHook, fn FunctionHook, cookie any) error {
	if !r.initialized {
		return types.NewRegistrationError(name, "registry not initialized")
	}
	if name == "" {
		return types.NewRegistrationError(name, "empty name")
	}
	if nilHook(cmd) && nilHook(fn) {
		return types.NewRegistrationError(name, "nil hook")
	}
	if argType != ArgsBoolean && argType != ArgsWords {
		return types.NewRegistrationError(name, fmt.Sprintf("invalid argument type %d", int(argType)))
	}

	h := &Handle{
		name:     name,
		cookie:   cookie,
		kind:     kind,
		argType:  argType,
		command:  cmd,
		function: fn,
	}
	if err := r.table.Add(name, int(kind), h); err != nil {
		return types.NewRegistrationError(name, fmt.Sprintf("cannot register %s: %v", kind, err))
	}
	return nil
}

// RegisterCommand adds a command. A name may be registered once as a
// command; the first registration is kept.
func (r *Registry) RegisterCommand(name string, argType ArgumentType, hook CommandHook, cookie any) error {
	if nilHook(hook) {
		return types.NewRegistrationError(name, "nil hook")
	}
	return r.register(name, KindCommand, argType, hook, nil, cookie)
}

// RegisterFunction adds a function. Functions always take words.
func (r *Registry) RegisterFunction(name string, hook FunctionHook, cookie any) error {
	if nilHook(hook) {
		return types.NewRegistrationError(name, "nil hook")
	}
	return r.register(name, KindFunction, ArgsWords, nil, hook, cookie)
}

func (r *Registry) find(name string, kind Kind) *Handle {
	if !r.initialized {
		return nil
	}
	v, ok := r.table.Find(name, int(kind))
	if !ok {
		return nil
	}
	return v.(*Handle)
}

// FindCommand returns the command registered under name, or nil.
func (r *Registry) FindCommand(name string) *Handle {
	return r.find(name, KindCommand)
}

// FindFunction returns the function registered under name, or nil.
func (r *Registry) FindFunction(name string) *Handle {
	return r.find(name, KindFunction)
}

// ArgumentTypeOf returns the argument type of h, or ArgsUnknown for nil.
func ArgumentTypeOf(h *Handle) ArgumentType {
	if h == nil {
		return ArgsUnknown
	}
	return h.argType
}

// Entries lists every registered command and function in registration
// order.
func (r *Registry) Entries() []*Handle {
	if !r.initialized {
		return nil
	}
	out := make([]*Handle, 0, r.table.Len())
	r.table.Each(func(_ string, _ int, cookie any) bool {
		out = append(out, cookie.(*Handle))
		return true
	})
	return out
}

func contractError(h *Handle, format string, args ...any) (int, error) {
	name := ""
	if h != nil {
		name = h.name
	}
	return -1, types.NewArgumentContractError(name, fmt.Sprintf(format, args...))
}

func (r *Registry) checkWords(h *Handle, kind Kind, argc int, hasArgv bool) (int, error) {
	if !r.initialized {
		return -1, types.NewRegistrationError("", "registry not initialized")
	}
	if h == nil {
		return contractError(h, "nil %s", kind)
	}
	if h.kind != kind {
		return contractError(h, "%s called as a %s", h.kind, kind)
	}
	if h.argType != ArgsWords {
		return contractError(h, "words call on a %s command", h.argType)
	}
	if argc < 0 {
		return contractError(h, "negative argc %d", argc)
	}
	if argc > 0 && !hasArgv {
		return contractError(h, "nil argv with argc %d", argc)
	}
	return 0, nil
}

// CallCommand invokes a words command. Every one of the argc arguments
// must be present; the hook is not invoked when validation fails.
func (r *Registry) CallCommand(h *Handle, argc int, argv []string) (int, error) {
	if status, err := r.checkWords(h, KindCommand, argc, argv != nil); err != nil {
		return status, err
	}
	if len(argv) < argc {
		return contractError(h, "argument %d is missing", len(argv))
	}
	r.tracef("calling command %s", h.name)
	return h.command.Invoke(h.name, h.cookie, argc, argv), nil
}

func (r *Registry) checkBoolean(h *Handle) (int, error) {
	if !r.initialized {
		return -1, types.NewRegistrationError("", "registry not initialized")
	}
	if h == nil {
		return contractError(h, "nil command")
	}
	if h.kind != KindCommand || h.argType != ArgsBoolean {
		return contractError(h, "boolean call on a %s %s", h.argType, h.kind)
	}
	return 0, nil
}

// CallBooleanCommand invokes a boolean command with argc set to 1 or 0.
func (r *Registry) CallBooleanCommand(h *Handle, arg bool) (int, error) {
	if status, err := r.checkBoolean(h); err != nil {
		return status, err
	}
	r.tracef("calling boolean command %s", h.name)
	return h.command.Invoke(h.name, h.cookie, boolArgc(arg), nil), nil
}

// CallFunction invokes a function and returns its result and status.
func (r *Registry) CallFunction(h *Handle, argc int, argv []string) (string, int, error) {
	if status, err := r.checkWords(h, KindFunction, argc, argv != nil); err != nil {
		return "", status, err
	}
	if len(argv) < argc {
		status, err := contractError(h, "argument %d is missing", len(argv))
		return "", status, err
	}
	r.tracef("calling function %s", h.name)
	status, result := h.function.Invoke(h.name, h.cookie, argc, argv)
	return result, status, nil
}

func probe(h *Handle, argc int, argv []*string, perms *permissions.RequestList) int {
	if p := h.prober(); p != nil {
		return p.ProbePermissions(h.name, h.cookie, argc, argv, perms)
	}
	return 0
}

// CommandPermissions asks a words command which permissions it needs.
func (r *Registry) CommandPermissions(h *Handle, argc int, argv []*string, perms *permissions.RequestList) (int, error) {
	if perms == nil {
		return contractError(h, "nil permission list")
	}
	if status, err := r.checkWords(h, KindCommand, argc, argv != nil); err != nil {
		return status, err
	}
	r.tracef("probing command %s", h.name)
	return probe(h, argc, padUnknown(argc, argv), perms), nil
}

// BooleanCommandPermissions asks a boolean command which permissions it
// needs.
func (r *Registry) BooleanCommandPermissions(h *Handle, arg bool, perms *permissions.RequestList) (int, error) {
	if perms == nil {
		return contractError(h, "nil permission list")
	}
	if status, err := r.checkBoolean(h); err != nil {
		return status, err
	}
	r.tracef("probing boolean command %s", h.name)
	return probe(h, boolArgc(arg), nil, perms), nil
}

// FunctionPermissions asks a function which permissions it needs.
func (r *Registry) FunctionPermissions(h *Handle, argc int, argv []*string, perms *permissions.RequestList) (int, error) {
	if perms == nil {
		return contractError(h, "nil permission list")
	}
	if status, err := r.checkWords(h, KindFunction, argc, argv != nil); err != nil {
		return status, err
	}
	r.tracef("probing function %s", h.name)
	return probe(h, argc, padUnknown(argc, argv), perms), nil
}

// padUnknown extends argv to argc elements; missing ones are unknown.
func padUnknown(argc int, argv []*string) []*string {
	if len(argv) >= argc {
		return argv
	}
	out := make([]*string, argc)
	copy(out, argv)
	return out
}

func boolArgc(b bool) int {
	if b {
		return 1
	}
	return 0
}
