package request

import (
	"fmt"
	"strings"
)

// Operation is the lifecycle action a request asks for.
type Operation int

const (
	OperationUnspecified Operation = iota
	CheckAvailable
	Create
	Start
	Stop
	Restart
	Remove
)

// Operations lists every valid operation in declaration order.
var Operations = []Operation{CheckAvailable, Create, Start, Stop, Restart, Remove}

var operationNames = map[Operation]string{
	CheckAvailable: "CheckAvailable",
	Create:         "Create",
	Start:          "Start",
	Stop:           "Stop",
	Restart:        "Restart",
	Remove:         "Remove",
}

func (o Operation) String() string {
	if n, ok := operationNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

func (o Operation) Valid() bool {
	_, ok := operationNames[o]
	return ok
}

// TargetsContainer reports whether the operation needs an existing container.
func (o Operation) TargetsContainer() bool {
	switch o {
	case Start, Stop, Restart, Remove:
		return true
	}
	return false
}

// ParseOperation accepts canonical names case-insensitively and the
// "available" and "check" shorthands.
func ParseOperation(s string) (Operation, error) {
	if strings.EqualFold(s, "available") || strings.EqualFold(s, "check") {
		return CheckAvailable, nil
	}
	for op, name := range operationNames {
		if strings.EqualFold(s, name) {
			return op, nil
		}
	}
	return OperationUnspecified, fmt.Errorf("%w: operation %q", ErrUnrecognizedEnum, s)
}

// Runtime identifies the container engine.
type Runtime int

const (
	RuntimeUnspecified Runtime = iota
	Docker
	Podman
)

var Runtimes = []Runtime{Docker, Podman}

var runtimeNames = map[Runtime]string{
	Docker: "Docker",
	Podman: "Podman",
}

func (r Runtime) String() string {
	if n, ok := runtimeNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Runtime(%d)", int(r))
}

func (r Runtime) Valid() bool {
	_, ok := runtimeNames[r]
	return ok
}

// Binary is the default command-line tool name for the runtime.
func (r Runtime) Binary() string {
	return strings.ToLower(r.String())
}

func ParseRuntime(s string) (Runtime, error) {
	for rt, name := range runtimeNames {
		if strings.EqualFold(s, name) {
			return rt, nil
		}
	}
	return RuntimeUnspecified, fmt.Errorf("%w: runtime %q", ErrUnrecognizedEnum, s)
}

// AccessMode is how the service reaches a runtime.
type AccessMode int

const (
	AccessModeUnspecified AccessMode = iota
	CLI
	API
)

var AccessModes = []AccessMode{CLI, API}

var accessModeNames = map[AccessMode]string{
	CLI: "CLI",
	API: "API",
}

func (m AccessMode) String() string {
	if n, ok := accessModeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("AccessMode(%d)", int(m))
}

func (m AccessMode) Valid() bool {
	_, ok := accessModeNames[m]
	return ok
}

func ParseAccessMode(s string) (AccessMode, error) {
	for m, name := range accessModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return AccessModeUnspecified, fmt.Errorf("%w: access mode %q", ErrUnrecognizedEnum, s)
}

func (o Operation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: operation %d", ErrUnrecognizedEnum, int(o))
	}
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(text []byte) error {
	v, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func (r Runtime) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: runtime %d", ErrUnrecognizedEnum, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Runtime) UnmarshalText(text []byte) error {
	v, err := ParseRuntime(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (m AccessMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: access mode %d", ErrUnrecognizedEnum, int(m))
	}
	return []byte(m.String()), nil
}

func (m *AccessMode) UnmarshalText(text []byte) error {
	v, err := ParseAccessMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
