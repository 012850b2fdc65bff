package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	webdistributor "github.com/csmith/webdistributor"
)

type command struct {
	name        string
	usage       string
	description string
	minArgs     int
	maxArgs     int
	force       bool
	run         func(*invocation) error
}

type invocation struct {
	command      *command
	args         []string
	force        bool
	distributor  *webdistributor.Distributor
	stdout       io.Writer
	readPassword func() (string, error)
}

var commands []*command

func init() {
	commands = []*command{
		{name: "generate", usage: "generate", description: "Regenerate all output from the registry", run: runGenerate},
		{name: "add", usage: "add <domain> <target> [--force]", description: "Proxy a domain to a target URL", minArgs: 2, maxArgs: 2, force: true, run: runAdd},
		{name: "remove", usage: "remove <domain>", description: "Stop proxying a domain", minArgs: 1, maxArgs: 1, run: runRemove},
		{name: "list", usage: "list", description: "List all routes", run: runList},
		{name: "login-group create", usage: "login-group create <group>", description: "Create an empty login group", minArgs: 1, maxArgs: 1, run: runGroupCreate},
		{name: "login-group remove", usage: "login-group remove <group>", description: "Delete a login group and unbind it", minArgs: 1, maxArgs: 1, run: runGroupRemove},
		{name: "login-group list", usage: "login-group list", description: "List all login groups", run: runGroupList},
		{name: "login-group apply", usage: "login-group apply <domain> <group> [--force]", description: "Protect a route with a login group", minArgs: 2, maxArgs: 2, force: true, run: runGroupApply},
		{name: "login-group disable", usage: "login-group disable <domain>", description: "Remove the login group from a route", minArgs: 1, maxArgs: 1, run: runGroupDisable},
		{name: "login-group add-login", usage: "login-group add-login <group> <name> [<password>] [--force]", description: "Add or replace a login", minArgs: 2, maxArgs: 3, force: true, run: runAddLogin},
		{name: "login-group revoke-login", usage: "login-group revoke-login <group> <name>", description: "Remove a login", minArgs: 2, maxArgs: 2, run: runRevokeLogin},
	}
}

// parseCommand finds the command named at the start of args and parses its flags and positional arguments.
func parseCommand(args []string, output io.Writer) (*invocation, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	c, rest := findCommand(args)
	if c == nil {
		return nil, fmt.Errorf("unknown command: %s", strings.Join(args, " "))
	}

	inv := &invocation{command: c}
	fs := pflag.NewFlagSet(c.name, pflag.ContinueOnError)
	fs.SetOutput(output)
	if c.force {
		fs.BoolVarP(&inv.force, "force", "f", false, "Replace any existing entry")
	}
	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, "Usage: web-distributor %s\n", c.usage)
		_, _ = fmt.Fprint(output, fs.FlagUsages())
	}
	if err := fs.Parse(rest); err != nil {
		return nil, err
	}

	inv.args = fs.Args()
	if len(inv.args) < c.minArgs || len(inv.args) > c.maxArgs {
		return nil, fmt.Errorf("usage: web-distributor %s", c.usage)
	}
	return inv, nil
}

func findCommand(args []string) (*command, []string) {
	var best *command
	var bestWords int
	for _, c := range commands {
		words := strings.Fields(c.name)
		if len(words) <= bestWords || len(words) > len(args) {
			continue
		}
		matches := true
		for i := range words {
			if args[i] != words[i] {
				matches = false
				break
			}
		}
		if matches {
			best = c
			bestWords = len(words)
		}
	}
	if best == nil {
		return nil, nil
	}
	return best, args[bestWords:]
}

func runGenerate(inv *invocation) error {
	return inv.distributor.Generate()
}

func runAdd(inv *invocation) error {
	return inv.distributor.AddRoute(inv.args[0], inv.args[1], inv.force)
}

func runRemove(inv *invocation) error {
	return inv.distributor.RemoveRoute(inv.args[0])
}

func runList(inv *invocation) error {
	for _, route := range inv.distributor.Routes() {
		if route.LoginGroup != "" {
			_, _ = fmt.Fprintf(inv.stdout, "%s => %s, login group: %s\n", route.Source, route.Target, route.LoginGroup)
		} else {
			_, _ = fmt.Fprintf(inv.stdout, "%s => %s\n", route.Source, route.Target)
		}
	}
	return nil
}

func runGroupCreate(inv *invocation) error {
	return inv.distributor.CreateLoginGroup(inv.args[0])
}

func runGroupRemove(inv *invocation) error {
	return inv.distributor.RemoveLoginGroup(inv.args[0])
}

func runGroupList(inv *invocation) error {
	groups, err := inv.distributor.LoginGroups()
	if err != nil {
		return err
	}
	for _, group := range groups {
		_, _ = fmt.Fprintln(inv.stdout, group)
	}
	return nil
}

func runGroupApply(inv *invocation) error {
	return inv.distributor.ApplyLoginGroup(inv.args[0], inv.args[1], inv.force)
}

func runGroupDisable(inv *invocation) error {
	return inv.distributor.DisableLoginGroup(inv.args[0])
}

func runAddLogin(inv *invocation) error {
	group, name := inv.args[0], inv.args[1]

	var password string
	if len(inv.args) > 2 {
		password = inv.args[2]
	} else {
		// Check for conflicts before asking for a password that would be thrown away.
		if err := webdistributor.ValidateLoginName(name); err != nil {
			return err
		}
		exists, err := inv.distributor.HasLogin(group, name)
		if err != nil {
			return err
		}
		if exists && !inv.force {
			return inv.distributor.AddLogin(group, name, "", false)
		}

		password, err = inv.readPassword()
		if err != nil {
			return err
		}
	}

	return inv.distributor.AddLogin(group, name, password, inv.force)
}

func runRevokeLogin(inv *invocation) error {
	return inv.distributor.RevokeLogin(inv.args[0], inv.args[1])
}
