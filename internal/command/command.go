// Package command binds validated requests to runtime drivers. A Key names
// one cell of the (operation, runtime, access mode) table; the Factory maps
// cells to builders and the Invoker runs whatever command it is handed.
package command

import (
	"context"
	"errors"
	"fmt"

	"corral/internal/request"
	"corral/internal/status"
)

// ErrUnsupportedCombination is returned by Factory.Create for an empty cell.
var ErrUnsupportedCombination = errors.New("unsupported combination")

// Driver performs the six lifecycle operations against one runtime over one
// access mode. Implementations report every failure through the Status.
type Driver interface {
	Available(ctx context.Context, req request.ContainerRequest) status.Status
	Create(ctx context.Context, req request.ContainerRequest) status.Status
	Start(ctx context.Context, req request.ContainerRequest) status.Status
	Stop(ctx context.Context, req request.ContainerRequest) status.Status
	Restart(ctx context.Context, req request.ContainerRequest) status.Status
	Remove(ctx context.Context, req request.ContainerRequest) status.Status
}

// Key identifies one cell of the dispatch table.
type Key struct {
	Operation  request.Operation
	Runtime    request.Runtime
	AccessMode request.AccessMode
}

// KeyOf returns the cell a request dispatches to.
func KeyOf(req request.ContainerRequest) Key {
	return Key{Operation: req.Operation, Runtime: req.Runtime, AccessMode: req.AccessMode}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Operation, k.Runtime, k.AccessMode)
}

// Command is a request bound to the driver that will carry it out.
type Command interface {
	Key() Key
	Execute(ctx context.Context) status.Status
}

// Operation is a driver method as a function value.
type Operation func(d Driver, ctx context.Context, req request.ContainerRequest) status.Status

// operations maps each lifecycle operation to the driver method serving it.
var operations = map[request.Operation]Operation{
	request.CheckAvailable: Driver.Available,
	request.Create:         Driver.Create,
	request.Start:          Driver.Start,
	request.Stop:           Driver.Stop,
	request.Restart:        Driver.Restart,
	request.Remove:         Driver.Remove,
}

// driverCommand calls one driver operation with a captured request.
type driverCommand struct {
	key    Key
	driver Driver
	op     Operation
	req    request.ContainerRequest
}

func (c *driverCommand) Key() Key { return c.key }

func (c *driverCommand) Execute(ctx context.Context) status.Status {
	return c.op(c.driver, ctx, c.req)
}

// Func adapts a plain function into a Command.
type Func struct {
	K  Key
	Fn func(ctx context.Context) status.Status
}

func (f Func) Key() Key { return f.K }

func (f Func) Execute(ctx context.Context) status.Status { return f.Fn(ctx) }
