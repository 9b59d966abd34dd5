package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/odyssey-erp/salespulse/internal/actors"
)

// Signer issues bearer tokens.
type Signer interface {
	Sign(viewer actors.Actor, ttl time.Duration) (string, error)
}

// TokenOptions controls token issuance.
type TokenOptions struct {
	ViewerID string
	TTL      time.Duration
	Stdout   io.Writer
	Stderr   io.Writer
}

// IssueToken signs a bearer token for an existing actor. The role claim is
// taken from the directory, never from the command line.
func IssueToken(ctx context.Context, dir ActorGetter, signer Signer, opts TokenOptions) int {
	if opts.ViewerID == "" {
		fmt.Fprintf(opts.Stderr, "token: --viewer is required\n")
		return ExitInvalid
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	viewer, err := dir.GetActor(ctx, opts.ViewerID)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return exitCode(err)
	}
	token, err := signer.Sign(viewer, opts.TTL)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return ExitFailure
	}
	fmt.Fprintln(opts.Stdout, token)
	return ExitOK
}
