// Package gpibtest provides a scripted in-memory gpib.Bus for adapter tests.
package gpibtest

import (
	"context"
	"fmt"
	"sync"

	"gpib-load-bridge/pkg/gpib"
)

// Op records one call made on a FakeBus
type Op struct {
	Kind string // "addr", "write" or "query"
	Arg  string
}

func (o Op) String() string {
	return o.Kind + " " + o.Arg
}

// FakeBus implements gpib.Bus. Query answers come from Responses; a command
// listed in Errors fails with that error instead of touching the bus.
type FakeBus struct {
	mu sync.Mutex

	address   int
	Responses map[string]string
	Errors    map[string]error
	Ops       []Op

	// AddressErr makes every SetAddress fail
	AddressErr error
}

// NewFakeBus returns a bus with no instrument selected
func NewFakeBus() *FakeBus {
	return &FakeBus{
		address:   gpib.NoAddress,
		Responses: make(map[string]string),
		Errors:    make(map[string]error),
	}
}

// Respond scripts the answer to a query
func (f *FakeBus) Respond(cmd, resp string) *FakeBus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[cmd] = resp
	return f
}

// Fail scripts an error for a command
func (f *FakeBus) Fail(cmd string, err error) *FakeBus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[cmd] = err
	return f
}

func (f *FakeBus) Address() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *FakeBus) SetAddress(ctx context.Context, addr int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, Op{Kind: "addr", Arg: fmt.Sprint(addr)})
	if f.AddressErr != nil {
		return f.AddressErr
	}
	f.address = addr
	return nil
}

func (f *FakeBus) Write(ctx context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, Op{Kind: "write", Arg: cmd})
	return f.Errors[cmd]
}

func (f *FakeBus) Query(ctx context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, Op{Kind: "query", Arg: cmd})
	if err := f.Errors[cmd]; err != nil {
		return "", err
	}
	resp, ok := f.Responses[cmd]
	if !ok {
		return "", fmt.Errorf("no scripted response for %q", cmd)
	}
	return resp, nil
}

func (f *FakeBus) Local(ctx context.Context) error {
	return f.Write(ctx, "++loc")
}

func (f *FakeBus) Identification(ctx context.Context) (string, error) {
	return f.Query(ctx, "*IDN?")
}

// Writes returns the lines written so far, in order
func (f *FakeBus) Writes() []string {
	return f.filter("write")
}

// Queries returns the queries issued so far, in order
func (f *FakeBus) Queries() []string {
	return f.filter("query")
}

// AddressChanges counts SetAddress calls
func (f *FakeBus) AddressChanges() int {
	return len(f.filter("addr"))
}

// Count returns how often cmd was written, queried or selected
func (f *FakeBus) Count(kind, arg string) int {
	n := 0
	for _, a := range f.filter(kind) {
		if a == arg {
			n++
		}
	}
	return n
}

// Reset forgets recorded ops but keeps the script and the selected address
func (f *FakeBus) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = nil
}

func (f *FakeBus) filter(kind string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, op := range f.Ops {
		if op.Kind == kind {
			out = append(out, op.Arg)
		}
	}
	return out
}

var _ gpib.Bus = (*FakeBus)(nil)
