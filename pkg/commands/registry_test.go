package commands

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/types"
)

// recorder captures the last hook invocation.
type recorder struct {
	called bool
	name   string
	cookie any
	argc   int
	argv   []string
	status int
	result string
}

func (rec *recorder) command() CommandFunc {
	return func(name string, cookie any, argc int, argv []string) int {
		rec.called = true
		rec.name = name
		rec.cookie = cookie
		rec.argc = argc
		rec.argv = argv
		return rec.status
	}
}

func (rec *recorder) function() FunctionFunc {
	return func(name string, cookie any, argc int, argv []string) (int, string) {
		rec.called = true
		rec.name = name
		rec.cookie = cookie
		rec.argc = argc
		rec.argv = argv
		return rec.status, rec.result
	}
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Cleanup)
	return r
}

func wantKind(t *testing.T, err error, tag string) {
	t.Helper()
	if !types.IsKind(err, tag) {
		t.Fatalf("got error %v, want %s", err, tag)
	}
}

var testArgv = []string{"ONE", "TWO", "THREE", "FOUR"}

func TestInitTwice(t *testing.T) {
	var r Registry
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	wantKind(t, r.Init(), types.TagRegistrationError)

	r.Cleanup()
	r.Cleanup()
	if err := r.Init(); err != nil {
		t.Fatalf("Init after Cleanup: %v", err)
	}
	r.Cleanup()
}

func TestUninitialized(t *testing.T) {
	var r Registry
	rec := &recorder{}
	wantKind(t, r.RegisterCommand("one", ArgsWords, rec.command(), nil), types.TagRegistrationError)
	wantKind(t, r.RegisterFunction("one", rec.function(), nil), types.TagRegistrationError)
	if r.FindCommand("one") != nil || r.FindFunction("one") != nil {
		t.Error("find on uninitialized registry should return nil")
	}
	if r.Entries() != nil {
		t.Error("Entries on uninitialized registry should be nil")
	}

	reg := newRegistry(t)
	if err := reg.RegisterCommand("one", ArgsWords, rec.command(), nil); err != nil {
		t.Fatal(err)
	}
	h := reg.FindCommand("one")
	reg.Cleanup()
	if _, err := reg.CallCommand(h, 0, nil); err == nil {
		t.Error("call after Cleanup should fail")
	}
	if reg.FindCommand("one") != nil {
		t.Error("entries should be gone after Cleanup")
	}
}

func TestCommands(t *testing.T) {
	r := newRegistry(t)
	rec := &recorder{}

	wantKind(t, r.RegisterCommand("", ArgsUnknown, nil, nil), types.TagRegistrationError)
	wantKind(t, r.RegisterCommand("hello", ArgsUnknown, rec.command(), nil), types.TagRegistrationError)
	wantKind(t, r.RegisterCommand("hello", ArgsWords, nil, nil), types.TagRegistrationError)
	wantKind(t, r.RegisterCommand("", ArgsWords, rec.command(), nil), types.TagRegistrationError)

	noProbe := ProbeFunc(func(string, any, int, []*string, *permissions.RequestList) int { return 0 })
	for name, hook := range map[string]CommandHook{
		"nil func":            CommandFunc(nil),
		"nil func with probe": WithProbe(nil, noProbe),
		"nil probed command":  probedCommand{nil, noProbe},
	} {
		t.Run(name, func(t *testing.T) {
			wantKind(t, r.RegisterCommand("hello", ArgsWords, hook, nil), types.TagRegistrationError)
			if r.FindCommand("hello") != nil {
				t.Error("nil hook was registered")
			}
		})
	}

	if r.FindCommand("") != nil {
		t.Error("empty name found")
	}
	if got := ArgumentTypeOf(nil); got != ArgsUnknown {
		t.Errorf("ArgumentTypeOf(nil) = %v", got)
	}
	if status, err := r.CallCommand(nil, -1, nil); status >= 0 || err == nil {
		t.Errorf("CallCommand(nil) = %d, %v", status, err)
	}
	if status, err := r.CallBooleanCommand(nil, false); status >= 0 || err == nil {
		t.Errorf("CallBooleanCommand(nil) = %d, %v", status, err)
	}

	for _, c := range []struct {
		name string
		typ  ArgumentType
	}{{"one", ArgsWords}, {"two", ArgsWords}, {"bool", ArgsBoolean}} {
		if err := r.RegisterCommand(c.name, c.typ, rec.command(), rec); err != nil {
			t.Fatalf("RegisterCommand(%s): %v", c.name, err)
		}
		h := r.FindCommand(c.name)
		if h == nil {
			t.Fatalf("FindCommand(%s) = nil", c.name)
		}
		if got := ArgumentTypeOf(h); got != c.typ {
			t.Errorf("ArgumentTypeOf(%s) = %v, want %v", c.name, got, c.typ)
		}
	}

	for _, name := range []string{"on", "onee", "ONE"} {
		if r.FindCommand(name) != nil {
			t.Errorf("FindCommand(%q) should be nil", name)
		}
	}

	wantKind(t, r.RegisterCommand("one", ArgsWords, rec.command(), rec), types.TagRegistrationError)

	one := r.FindCommand("one")
	boolCmd := r.FindCommand("bool")

	t.Run("contract violations", func(t *testing.T) {
		tests := []struct {
			name string
			call func() (int, error)
		}{
			{"negative argc", func() (int, error) { return r.CallCommand(one, -1, nil) }},
			{"nil argv", func() (int, error) { return r.CallCommand(one, 1, nil) }},
			{"short argv", func() (int, error) { return r.CallCommand(one, 3, []string{"a", "b"}) }},
			{"boolean call on words command", func() (int, error) { return r.CallBooleanCommand(one, false) }},
			{"words call on boolean command", func() (int, error) { return r.CallCommand(boolCmd, 0, nil) }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec.called = false
				status, err := tt.call()
				if status != -1 {
					t.Errorf("status = %d, want -1", status)
				}
				wantKind(t, err, types.TagArgumentContractError)
				if rec.called {
					t.Error("hook invoked despite contract violation")
				}
			})
		}
	})

	t.Run("words call", func(t *testing.T) {
		*rec = recorder{status: 25}
		status, err := r.CallCommand(one, len(testArgv), testArgv)
		if err != nil || status != 25 {
			t.Fatalf("CallCommand = %d, %v; want 25", status, err)
		}
		if !rec.called || rec.name != "one" || rec.cookie != rec || rec.argc != 4 {
			t.Errorf("hook saw %+v", rec)
		}
		if &rec.argv[0] != &testArgv[0] {
			t.Error("argv was copied")
		}
	})

	t.Run("zero argc", func(t *testing.T) {
		*rec = recorder{}
		if status, err := r.CallCommand(one, 0, nil); err != nil || status != 0 || !rec.called {
			t.Errorf("CallCommand(0, nil) = %d, %v; called=%v", status, err, rec.called)
		}
	})

	t.Run("boolean call", func(t *testing.T) {
		for _, tt := range []struct {
			arg    bool
			status int
			argc   int
		}{{false, 12, 0}, {true, 13, 1}} {
			*rec = recorder{status: tt.status, argv: []string{"sentinel"}}
			status, err := r.CallBooleanCommand(boolCmd, tt.arg)
			if err != nil || status != tt.status {
				t.Fatalf("CallBooleanCommand(%v) = %d, %v", tt.arg, status, err)
			}
			if !rec.called || rec.name != "bool" || rec.argc != tt.argc || rec.argv != nil {
				t.Errorf("hook saw %+v", rec)
			}
		}
	})
}

func TestFunctions(t *testing.T) {
	r := newRegistry(t)
	rec := &recorder{}

	wantKind(t, r.RegisterFunction("", nil, nil), types.TagRegistrationError)
	wantKind(t, r.RegisterFunction("hello", nil, nil), types.TagRegistrationError)
	wantKind(t, r.RegisterFunction("hello", FunctionFunc(nil), nil), types.TagRegistrationError)
	wantKind(t, r.RegisterFunction("hello", WithFunctionProbe(nil, nil), nil), types.TagRegistrationError)
	wantKind(t, r.RegisterFunction("hello", probedFunction{}, nil), types.TagRegistrationError)
	if r.FindFunction("hello") != nil {
		t.Error("nil hook was registered")
	}
	if _, status, err := r.CallFunction(nil, -1, nil); status >= 0 || err == nil {
		t.Errorf("CallFunction(nil) = %d, %v", status, err)
	}

	for _, name := range []string{"one", "two", "three"} {
		if err := r.RegisterFunction(name, rec.function(), rec); err != nil {
			t.Fatalf("RegisterFunction(%s): %v", name, err)
		}
		h := r.FindFunction(name)
		if h == nil || h.Kind() != KindFunction || h.ArgumentType() != ArgsWords {
			t.Fatalf("FindFunction(%s) = %+v", name, h)
		}
	}
	if r.FindFunction("on") != nil || r.FindFunction("onee") != nil {
		t.Error("similar names should not resolve")
	}
	wantKind(t, r.RegisterFunction("one", rec.function(), rec), types.TagRegistrationError)

	fn := r.FindFunction("one")
	if _, _, err := r.CallFunction(fn, -1, nil); err == nil {
		t.Error("negative argc accepted")
	}
	if _, _, err := r.CallFunction(fn, 1, nil); err == nil {
		t.Error("nil argv accepted")
	}

	*rec = recorder{status: 25, result: "1234"}
	result, status, err := r.CallFunction(fn, len(testArgv), testArgv)
	if err != nil || status != 25 || result != "1234" {
		t.Fatalf("CallFunction = %q, %d, %v", result, status, err)
	}
	if rec.name != "one" || rec.cookie != rec || rec.argc != 4 {
		t.Errorf("hook saw %+v", rec)
	}

	// A function handle is not a command.
	if _, err := r.CallCommand(fn, 0, nil); err == nil {
		t.Error("CallCommand accepted a function handle")
	}
}

func TestInteraction(t *testing.T) {
	r := newRegistry(t)
	rec := &recorder{}

	mustRegister := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	mustRegister(r.RegisterCommand("one", ArgsWords, rec.command(), 0xc1))
	mustRegister(r.RegisterCommand("two", ArgsWords, rec.command(), 0xc2))
	mustRegister(r.RegisterFunction("one", rec.function(), 0xf1))
	mustRegister(r.RegisterFunction("three", rec.function(), 0xf3))

	lookups := []struct {
		name     string
		command  bool
		function bool
	}{
		{"one", true, true},
		{"two", true, false},
		{"three", false, true},
	}
	for _, tt := range lookups {
		if got := r.FindCommand(tt.name) != nil; got != tt.command {
			t.Errorf("FindCommand(%s) found=%v, want %v", tt.name, got, tt.command)
		}
		if got := r.FindFunction(tt.name) != nil; got != tt.function {
			t.Errorf("FindFunction(%s) found=%v, want %v", tt.name, got, tt.function)
		}
	}

	*rec = recorder{status: 123}
	status, err := r.CallCommand(r.FindCommand("one"), len(testArgv), testArgv)
	if err != nil || status != 123 || rec.cookie != 0xc1 {
		t.Errorf("command one: status=%d err=%v cookie=%v", status, err, rec.cookie)
	}

	*rec = recorder{status: 125, result: "5678"}
	result, status, err := r.CallFunction(r.FindFunction("one"), len(testArgv), testArgv)
	if err != nil || status != 125 || result != "5678" || rec.cookie != 0xf1 {
		t.Errorf("function one: result=%q status=%d err=%v cookie=%v", result, status, err, rec.cookie)
	}

	var names []string
	for _, h := range r.Entries() {
		names = append(names, h.Kind().String()+":"+h.Name())
	}
	if got := strings.Join(names, ","); got != "command:one,command:two,function:one,function:three" {
		t.Errorf("Entries = %s", got)
	}
}

func TestPermissionProbing(t *testing.T) {
	r := newRegistry(t)
	rec := &recorder{}

	var probedArgv []*string
	probe := func(name string, cookie any, argc int, argv []*string, perms *permissions.RequestList) int {
		probedArgv = argv
		for _, a := range argv {
			if a != nil {
				perms.Add(*a, false, permissions.PermWrite)
			}
		}
		return 0
	}

	if err := r.RegisterCommand("probed", ArgsWords, WithProbe(rec.command(), probe), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterCommand("plain", ArgsWords, rec.command(), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterCommand("cond", ArgsBoolean, rec.command(), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterFunction("fn", WithFunctionProbe(rec.function(), probe), nil); err != nil {
		t.Fatal(err)
	}

	path := "/system/file"
	var perms permissions.RequestList

	if _, err := r.CommandPermissions(r.FindCommand("probed"), 1, []*string{&path}, nil); err == nil {
		t.Error("nil permission list accepted")
	}

	rec.called = false
	status, err := r.CommandPermissions(r.FindCommand("probed"), 2, []*string{&path, nil}, &perms)
	if err != nil || status != 0 {
		t.Fatalf("CommandPermissions = %d, %v", status, err)
	}
	if rec.called {
		t.Error("probing invoked the command itself")
	}
	if perms.Len() != 1 || perms.Requests()[0].Path != path {
		t.Errorf("requests = %+v", perms.Requests())
	}
	if len(probedArgv) != 2 || probedArgv[1] != nil {
		t.Errorf("probe saw argv %v", probedArgv)
	}

	// Fewer elements than argc are padded with unknowns.
	if _, err := r.FunctionPermissions(r.FindFunction("fn"), 3, []*string{&path}, &perms); err != nil {
		t.Fatal(err)
	}
	if len(probedArgv) != 3 || probedArgv[2] != nil {
		t.Errorf("probe saw argv %v", probedArgv)
	}

	perms.Reset()
	if status, err := r.CommandPermissions(r.FindCommand("plain"), 1, []*string{&path}, &perms); err != nil || status != 0 {
		t.Errorf("plain probe = %d, %v", status, err)
	}
	if status, err := r.BooleanCommandPermissions(r.FindCommand("cond"), false, &perms); err != nil || status != 0 {
		t.Errorf("boolean probe = %d, %v", status, err)
	}
	if perms.Len() != 0 {
		t.Errorf("hooks without probes added requests: %+v", perms.Requests())
	}
	if rec.called {
		t.Error("probing invoked a hook")
	}
}

func TestTracing(t *testing.T) {
	r := newRegistry(t)
	var buf bytes.Buffer
	r.SetLogger(log.New(&buf, "", 0))

	rec := &recorder{}
	r.RegisterCommand("hello", ArgsWords, rec.command(), nil)
	r.RegisterFunction("world", rec.function(), nil)
	r.CallCommand(r.FindCommand("hello"), 0, nil)
	r.CallFunction(r.FindFunction("world"), 0, nil)

	want := "calling command hello\ncalling function world\n"
	if buf.String() != want {
		t.Errorf("trace = %q, want %q", buf.String(), want)
	}
}
