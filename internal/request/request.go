package request

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

var (
	// ErrUnrecognizedEnum is returned when an operation, runtime or access
	// mode is missing or outside its closed set.
	ErrUnrecognizedEnum = errors.New("unrecognized enum value")

	// ErrInvalidRequest is returned by Validate.
	ErrInvalidRequest = errors.New("invalid request")
)

// ContainerRequest is the protocol independent form of an incoming request.
type ContainerRequest struct {
	Operation     Operation         `json:"operation"`
	Runtime       Runtime           `json:"runtime"`
	AccessMode    AccessMode        `json:"accessMode"`
	ContainerID   string            `json:"containerId,omitempty"`
	ImageName     string            `json:"imageName,omitempty"`
	ContainerName string            `json:"containerName,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	Ports         []string          `json:"ports,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`

	CPUs          float64 `json:"cpus,omitempty"`
	Memory        string  `json:"memory,omitempty"`
	PidsLimit     int64   `json:"pidsLimit,omitempty"`
	RestartPolicy string  `json:"restartPolicy,omitempty"`

	CorrelationID string `json:"correlationId,omitempty"`
}

var containerNamePattern = regexp.MustCompile(`^/?[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

// Validate checks the enum fields and the per-operation required fields.
func (r ContainerRequest) Validate() error {
	if !r.Operation.Valid() {
		return fmt.Errorf("%w: operation %d", ErrUnrecognizedEnum, int(r.Operation))
	}
	if !r.Runtime.Valid() {
		return fmt.Errorf("%w: runtime %d", ErrUnrecognizedEnum, int(r.Runtime))
	}
	if !r.AccessMode.Valid() {
		return fmt.Errorf("%w: access mode %d", ErrUnrecognizedEnum, int(r.AccessMode))
	}

	if r.Operation.TargetsContainer() {
		if strings.TrimSpace(r.ContainerID) == "" {
			return fmt.Errorf("%w: containerId is required for %s", ErrInvalidRequest, r.Operation)
		}
		if strings.HasPrefix(r.ContainerID, "-") {
			return fmt.Errorf("%w: invalid containerId %q", ErrInvalidRequest, r.ContainerID)
		}
	}
	if r.Operation != Create {
		return nil
	}

	if strings.TrimSpace(r.ImageName) == "" {
		return fmt.Errorf("%w: imageName is required for Create", ErrInvalidRequest)
	}
	if _, err := reference.ParseAnyReference(r.ImageName); err != nil {
		return fmt.Errorf("%w: imageName %q: %v", ErrInvalidRequest, r.ImageName, err)
	}
	if r.ContainerName != "" && !containerNamePattern.MatchString(r.ContainerName) {
		return fmt.Errorf("%w: invalid container name %q", ErrInvalidRequest, r.ContainerName)
	}
	for k := range r.Environment {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("%w: invalid environment key %q", ErrInvalidRequest, k)
		}
	}
	if _, _, err := nat.ParsePortSpecs(r.Ports); err != nil {
		return fmt.Errorf("%w: ports: %v", ErrInvalidRequest, err)
	}
	for _, v := range r.Volumes {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: empty volume spec", ErrInvalidRequest)
		}
	}
	if r.CPUs < 0 {
		return fmt.Errorf("%w: cpus must not be negative", ErrInvalidRequest)
	}
	if r.PidsLimit < 0 {
		return fmt.Errorf("%w: pidsLimit must not be negative", ErrInvalidRequest)
	}
	if r.Memory != "" {
		if _, err := units.RAMInBytes(r.Memory); err != nil {
			return fmt.Errorf("%w: memory %q: %v", ErrInvalidRequest, r.Memory, err)
		}
	}
	if r.RestartPolicy != "" {
		if _, _, err := ParseRestartPolicy(r.RestartPolicy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

// Target returns the container the request acts on, preferring the id.
func (r ContainerRequest) Target() string {
	if r.ContainerID != "" {
		return r.ContainerID
	}
	return r.ContainerName
}

// ParseRestartPolicy splits "on-failure:3" into its name and retry count.
func ParseRestartPolicy(s string) (name string, maxRetries int, err error) {
	name, count, hasCount := strings.Cut(s, ":")
	switch name {
	case "no", "always", "unless-stopped":
		if hasCount {
			return "", 0, fmt.Errorf("restart policy %q does not take a retry count", name)
		}
		return name, 0, nil
	case "on-failure":
		if !hasCount {
			return name, 0, nil
		}
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			return "", 0, fmt.Errorf("restart policy %q: invalid retry count", s)
		}
		return name, n, nil
	default:
		return "", 0, fmt.Errorf("unknown restart policy %q", s)
	}
}
