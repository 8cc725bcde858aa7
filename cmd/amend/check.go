package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/amend/pkg/commands"
	"github.com/lemonberrylabs/amend/pkg/parser"
	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/runtime"
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "List the accesses a script would make and flag permission conflicts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  check,
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the registered commands and functions",
	Args:  cobra.NoArgs,
	RunE:  listCommands,
}

func check(cmd *cobra.Command, args []string) error {
	src, err := readScript(cmd, args)
	if err != nil {
		return err
	}
	dev, err := openDevice(cmd, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	list, err := parser.Parse(src, dev.reg)
	if err != nil {
		return &exitError{code: exitParseFailed, err: fmt.Errorf("parse failed: %w", err)}
	}
	reqs, err := runtime.NewEngine(dev.reg).Probe(list)
	if err != nil {
		return &exitError{code: exitExecutionFailed, err: fmt.Errorf("probe failed: %w", err)}
	}
	conflicts, err := dev.ctx.Permissions.CountConflicts(reqs, true)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tRECURSIVE\tREQUESTED\tALLOWED\t")
	for _, r := range reqs.Requests() {
		mark := ""
		if r.Requested&^r.Allowed != 0 {
			mark = "CONFLICT"
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\t%s\n", r.Path, r.Recursive,
			permissions.Format(r.Requested), permissions.Format(r.Allowed), mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if conflicts > 0 {
		return fmt.Errorf("%d permission conflict(s)", conflicts)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "amend: %d request(s), no conflicts.\n", reqs.Len())
	return nil
}

func listCommands(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(cmd, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tARGUMENTS")
	for _, h := range dev.reg.Entries() {
		args := h.ArgumentType().String()
		if h.Kind() == commands.KindFunction {
			args = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Kind(), h.Name(), args)
	}
	return tw.Flush()
}
