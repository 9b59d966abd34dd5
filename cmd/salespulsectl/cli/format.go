// Package cli implements the salespulsectl subcommands against narrow
// interfaces so they can run with stubs in tests.
package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// NewPrinter returns a locale-aware printer. Unknown tags fall back to English.
func NewPrinter(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

// Amount renders d with two decimals and the locale's digit grouping.
func Amount(p *message.Printer, d decimal.Decimal) string {
	return p.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// Exit codes shared by every subcommand.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitInvalid  = 2
	ExitRejected = 3
)

var errMissingFlag = fmt.Errorf("missing flag: %w", shared.ErrValidation)

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, shared.ErrValidation):
		return ExitInvalid
	case errors.Is(err, shared.ErrPermission),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrInvalidTransition):
		return ExitRejected
	default:
		return ExitFailure
	}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int { return exitCode(err) }
