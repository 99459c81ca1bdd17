package status

import (
	"encoding/json"
	"fmt"
)

// Code classifies why a request failed. None means success.
type Code int

const (
	None Code = iota
	DecryptionError
	DecodeError
	UnrecognizedEnumValue
	UnsupportedCombination
	QueueSaturated
	Timeout
	RuntimeReportedError
	StorageError
	NotFound
	InternalError
	Unavailable
)

var codeNames = [...]string{
	None:                   "None",
	DecryptionError:        "DecryptionError",
	DecodeError:            "DecodeError",
	UnrecognizedEnumValue:  "UnrecognizedEnumValue",
	UnsupportedCombination: "UnsupportedCombination",
	QueueSaturated:         "QueueSaturated",
	Timeout:                "Timeout",
	RuntimeReportedError:   "RuntimeReportedError",
	StorageError:           "StorageError",
	NotFound:               "NotFound",
	InternalError:          "InternalError",
	Unavailable:            "Unavailable",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// Valid reports whether c is one of the declared codes.
func (c Code) Valid() bool {
	return c >= 0 && int(c) < len(codeNames)
}

// ParseCode returns the code with the given name.
func ParseCode(s string) (Code, error) {
	for i, name := range codeNames {
		if name == s {
			return Code(i), nil
		}
	}
	return None, fmt.Errorf("unknown error code %q", s)
}

func (c Code) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("marshal error code: invalid value %d", int(c))
	}
	return json.Marshal(c.String())
}

func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("error code must be a string: %w", err)
	}
	parsed, err := ParseCode(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Status is the result envelope returned for every request.
type Status struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ContainerID   string `json:"containerId,omitempty"`
	ErrorCode     Code   `json:"errorCode"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// OK builds a successful status.
func OK(message, containerID string) Status {
	return Status{
		Success:     true,
		Message:     message,
		ContainerID: containerID,
		ErrorCode:   None,
	}
}

// Fail builds a failed status with the given code.
func Fail(code Code, message string) Status {
	if code == None {
		code = InternalError
	}
	return Status{
		Success:   false,
		Message:   message,
		ErrorCode: code,
	}
}

// Failf is Fail with a formatted message.
func Failf(code Code, format string, args ...any) Status {
	return Fail(code, fmt.Sprintf(format, args...))
}

// WithCorrelation returns a copy carrying the given correlation id.
func (s Status) WithCorrelation(id string) Status {
	s.CorrelationID = id
	return s
}

func (s Status) String() string {
	if s.Success {
		return "ok: " + s.Message
	}
	return s.ErrorCode.String() + ": " + s.Message
}
