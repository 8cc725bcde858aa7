package recovery

import (
	"github.com/lemonberrylabs/amend/pkg/commands"
	"github.com/lemonberrylabs/amend/pkg/permissions"
)

// commandImpl is an update command with its cookie already resolved.
// argv holds exactly argc words.
type commandImpl func(c *Context, name string, argv []string) int

// functionImpl is an update function with its cookie already resolved.
type functionImpl func(c *Context, name string, argv []string) (int, string)

// probeImpl describes the access a hook would perform. Unknown arguments
// are nil.
type probeImpl func(c *Context, name string, argv []*string, perms *permissions.RequestList) int

func command(fn commandImpl) commands.CommandFunc {
	return func(name string, cookie any, argc int, argv []string) int {
		c, ok := cookie.(*Context)
		if !ok || argc < 0 || len(argv) < argc {
			return -1
		}
		return fn(c, name, argv[:argc])
	}
}

func function(fn functionImpl) commands.FunctionFunc {
	return func(name string, cookie any, argc int, argv []string) (int, string) {
		c, ok := cookie.(*Context)
		if !ok || argc < 0 || len(argv) < argc {
			return -1, ""
		}
		return fn(c, name, argv[:argc])
	}
}

func probe(fn probeImpl) commands.ProbeFunc {
	return func(name string, cookie any, argc int, argv []*string, perms *permissions.RequestList) int {
		c, ok := cookie.(*Context)
		if !ok || argc < 0 || len(argv) < argc {
			return -1
		}
		return fn(c, name, argv[:argc], perms)
	}
}

var updateCommands = []struct {
	name    string
	argType commands.ArgumentType
	hook    commands.CommandHook
}{
	{"assert", commands.ArgsBoolean, commands.CommandFunc(cmdAssert)},
	{"delete", commands.ArgsWords, commands.WithProbe(command(cmdDelete), probe(probeDelete))},
	{"delete_recursive", commands.ArgsWords, commands.WithProbe(command(cmdDelete), probe(probeDelete))},
	{"copy_dir", commands.ArgsWords, commands.WithProbe(command(cmdCopyDir), probe(probeCopyDir))},
	{"run_program", commands.ArgsWords, commands.WithProbe(command(cmdRunProgram), probe(probeRunProgram))},
	{"set_perm", commands.ArgsWords, commands.WithProbe(command(cmdSetPerm), probe(probeSetPerm))},
	{"set_perm_recursive", commands.ArgsWords, commands.WithProbe(command(cmdSetPerm), probe(probeSetPerm))},
	{"show_progress", commands.ArgsWords, command(cmdShowProgress)},
	{"symlink", commands.ArgsWords, commands.WithProbe(command(cmdSymlink), probe(probeSymlink))},
	{"format", commands.ArgsWords, commands.WithProbe(command(cmdFormat), probe(probeFormat))},
	{"write_radio_image", commands.ArgsWords, command(cmdWriteFirmwareImage)},
	{"write_hboot_image", commands.ArgsWords, command(cmdWriteFirmwareImage)},
	{"write_raw_image", commands.ArgsWords, commands.WithProbe(command(cmdWriteRawImage), probe(probeWriteRawImage))},
	{"mark", commands.ArgsWords, command(cmdMark)},
	{"done", commands.ArgsWords, command(cmdDone)},
}

var updateFunctions = []struct {
	name string
	hook commands.FunctionHook
}{
	{"compatible_with", function(fnCompatibleWith)},
	{"update_forced", function(fnUpdateForced)},
	{"get_mark", function(fnGetMark)},
	{"hash_dir", commands.WithFunctionProbe(function(fnHashDir), probe(probeHashDir))},
	{"matches", function(fnMatches)},
	{"concat", function(fnConcat)},
	{"getprop", function(fnGetprop)},
	{"file_contains", commands.WithFunctionProbe(function(fnFileContains), probe(probeFileContains))},
}

// Register adds the update commands and functions to reg with c as their
// cookie. It stops at the first registration error.
func Register(reg *commands.Registry, c *Context) error {
	for _, cmd := range updateCommands {
		if err := reg.RegisterCommand(cmd.name, cmd.argType, cmd.hook, c); err != nil {
			return err
		}
	}
	for _, fn := range updateFunctions {
		if err := reg.RegisterFunction(fn.name, fn.hook, c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a fresh registry holding the update command set.
func NewRegistry(c *Context) (*commands.Registry, error) {
	reg, err := commands.New()
	if err != nil {
		return nil, err
	}
	if err := Register(reg, c); err != nil {
		reg.Cleanup()
		return nil, err
	}
	return reg, nil
}
