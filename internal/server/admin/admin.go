// Package admin implements the operator commands of accountctl.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/vidtube/internal/common"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var ErrUsage = errors.New("usage: accountctl migrate | set-password <username>")

type PasswordSetter interface {
	SetPassword(ctx context.Context, username, newPassword string) error
}

// Commands dispatches operator subcommands. Migrate is called for "migrate";
// Passwords serves "set-password".
type Commands struct {
	Migrate   func(ctx context.Context) error
	Passwords PasswordSetter
	Out       io.Writer
	// In is read when stdin is not a terminal, e.g. a piped password.
	In      io.Reader
	isTerm  func(fd int) bool
	stdinFd int
}

func NewCommands(migrate func(ctx context.Context) error, p PasswordSetter) *Commands {
	return &Commands{
		Migrate:   migrate,
		Passwords: p,
		Out:       os.Stdout,
		In:        os.Stdin,
		isTerm:    term.IsTerminal,
		stdinFd:   int(os.Stdin.Fd()),
	}
}

// Run executes the subcommand named by the first positional argument.
func (c *Commands) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "migrate":
		if err := c.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(c.Out, "Migrations applied")
		return nil
	case "set-password":
		if len(args) != 2 || common.IsBlank(args[1]) {
			return ErrUsage
		}
		return c.setPassword(ctx, args[1])
	default:
		return ErrUsage
	}
}

func (c *Commands) setPassword(ctx context.Context, username string) error {
	pw, err := c.readNewPassword()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer common.WipeByteArray(pw)

	if err := c.Passwords.SetPassword(ctx, username, string(pw)); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Password updated")
	return nil
}

func (c *Commands) readNewPassword() ([]byte, error) {
	if c.isTerm != nil && c.isTerm(c.stdinFd) {
		fmt.Fprint(c.Out, "Enter new password: ")
		pw, err := readPassword(c.stdinFd)
		fmt.Fprintln(c.Out)
		return pw, err
	}

	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// Positional strips flags and their values so only subcommand words remain.
// Flags are always written as "-x value" or "-x=value".
func Positional(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			if !strings.Contains(a, "=") && i+1 < len(args) {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}
