// cli.go - Shared command line plumbing.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package common provides the command line plumbing shared by the courier
// tools.
package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/katzenpost/swarmcourier/result"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true) // Bright green
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // Bright red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true) // Bright yellow
	InfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true) // Bright cyan
)

// ExecuteWithFang executes cmd using fang, cancelling ctx's descendants
// when it returns.
func ExecuteWithFang(ctx context.Context, cmd *cobra.Command) int {
	if err := fang.Execute(
		ctx,
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandlerWithUsage(cmd)),
	); err != nil {
		return 1
	}
	return 0
}

// ErrorHandlerWithUsage prints the error, followed by the usage text for
// errors caused by bad arguments.
func ErrorHandlerWithUsage(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if isUsageError(err) {
			if helpFunc := cmd.HelpFunc(); helpFunc != nil {
				cmd.SetOut(colorprofile.NewWriter(w, os.Environ()))
				helpFunc(cmd, []string{})
			}
			return
		}
		_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
			lipgloss.Left,
			styles.ErrorText.UnsetWidth().Render("Try"),
			styles.Program.Flag.Render("--help"),
			styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		))
		_, _ = fmt.Fprintln(w)
	}
}

func isUsageError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts",
		"arg(s), received",
		"failed to load config file",
		"invalid recipient",
	} {
		if strings.Contains(s, prefix) {
			return true
		}
	}
	return false
}

// RenderResult formats a send outcome for a terminal.
func RenderResult(r result.Result) string {
	switch v := r.(type) {
	case *result.Success:
		s := successStyle.Render("sent") + " " + v.Address.String()
		if v.Unidentified {
			s += " (unidentified)"
		}
		return s
	case *result.IdentityFailure:
		return warningStyle.Render("untrusted identity") + fmt.Sprintf(" %v (key %x)", v.Address, v.IdentityKey)
	case *result.UnregisteredFailure:
		return failureStyle.Render("unregistered") + " " + v.Address.String()
	case *result.NetworkFailure:
		return failureStyle.Render("failed") + fmt.Sprintf(" %v: %v", v.Address, v.Err)
	default:
		return fmt.Sprintf("%v", r)
	}
}
