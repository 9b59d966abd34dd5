package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/orders"
)

// OrderTransitioner applies a status change on behalf of a viewer.
type OrderTransitioner interface {
	Transition(ctx context.Context, viewer actors.Actor, id int64, requested string) (orders.Order, error)
}

// TransitionOptions controls one status change.
type TransitionOptions struct {
	ViewerID   string
	OrderID    int64
	Status     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// TransitionCLI moves an order through its lifecycle from the shell.
type TransitionCLI struct {
	actors ActorGetter
	orders OrderTransitioner
}

// NewTransitionCLI constructs the transition helper.
func NewTransitionCLI(dir ActorGetter, svc OrderTransitioner) (*TransitionCLI, error) {
	if dir == nil || svc == nil {
		return nil, errors.New("transition cli: directory and order service required")
	}
	return &TransitionCLI{actors: dir, orders: svc}, nil
}

// Command applies the change and returns the exit code.
func (c *TransitionCLI) Command(ctx context.Context, opts TransitionOptions) int {
	if err := c.run(ctx, opts); err != nil {
		fmt.Fprintf(opts.Stderr, "transition: %v\n", err)
		return exitCode(err)
	}
	return ExitOK
}

func (c *TransitionCLI) run(ctx context.Context, opts TransitionOptions) error {
	if opts.ViewerID == "" || opts.OrderID <= 0 {
		return fmt.Errorf("--viewer and --order are required: %w", errMissingFlag)
	}
	viewer, err := c.actors.GetActor(ctx, opts.ViewerID)
	if err != nil {
		return err
	}
	saved, err := c.orders.Transition(ctx, viewer, opts.OrderID, opts.Status)
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(saved)
	}
	fmt.Fprintf(opts.Stdout, "order %d is now %s (updated %s)\n",
		saved.ID, saved.Status, saved.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
