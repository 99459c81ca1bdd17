package codec

import (
	"encoding/json"
	"fmt"

	"corral/internal/request"
	"corral/internal/status"
)

type jsonRequest struct {
	Operation     string            `json:"operation"`
	Runtime       string            `json:"runtime"`
	AccessMode    string            `json:"accessMode"`
	ContainerID   string            `json:"containerId,omitempty"`
	ImageName     string            `json:"imageName,omitempty"`
	ContainerName string            `json:"containerName,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	Ports         []string          `json:"ports,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`
	CPUs          float64           `json:"cpus,omitempty"`
	Memory        string            `json:"memory,omitempty"`
	PidsLimit     int64             `json:"pidsLimit,omitempty"`
	RestartPolicy string            `json:"restartPolicy,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// JSONCodec speaks the JSON wire shape.
type JSONCodec struct{}

func (JSONCodec) Encoding() Encoding { return JSON }

func (JSONCodec) DecodeRequest(data []byte) (request.ContainerRequest, error) {
	var wire jsonRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return request.ContainerRequest{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	op, err := request.ParseOperation(wire.Operation)
	if err != nil {
		return request.ContainerRequest{}, err
	}
	rt, err := request.ParseRuntime(wire.Runtime)
	if err != nil {
		return request.ContainerRequest{}, err
	}
	mode, err := request.ParseAccessMode(wire.AccessMode)
	if err != nil {
		return request.ContainerRequest{}, err
	}

	return request.ContainerRequest{
		Operation:     op,
		Runtime:       rt,
		AccessMode:    mode,
		ContainerID:   wire.ContainerID,
		ImageName:     wire.ImageName,
		ContainerName: wire.ContainerName,
		Environment:   wire.Environment,
		Ports:         wire.Ports,
		Volumes:       wire.Volumes,
		CPUs:          wire.CPUs,
		Memory:        wire.Memory,
		PidsLimit:     wire.PidsLimit,
		RestartPolicy: wire.RestartPolicy,
		CorrelationID: wire.CorrelationID,
	}, nil
}

func (JSONCodec) EncodeRequest(req request.ContainerRequest) ([]byte, error) {
	if !req.Operation.Valid() || !req.Runtime.Valid() || !req.AccessMode.Valid() {
		return nil, fmt.Errorf("encode request: %w", request.ErrUnrecognizedEnum)
	}
	return json.Marshal(jsonRequest{
		Operation:     req.Operation.String(),
		Runtime:       req.Runtime.String(),
		AccessMode:    req.AccessMode.String(),
		ContainerID:   req.ContainerID,
		ImageName:     req.ImageName,
		ContainerName: req.ContainerName,
		Environment:   req.Environment,
		Ports:         req.Ports,
		Volumes:       req.Volumes,
		CPUs:          req.CPUs,
		Memory:        req.Memory,
		PidsLimit:     req.PidsLimit,
		RestartPolicy: req.RestartPolicy,
		CorrelationID: req.CorrelationID,
	})
}

func (JSONCodec) EncodeStatus(st status.Status) ([]byte, error) {
	return json.Marshal(st)
}

func (JSONCodec) DecodeStatus(data []byte) (status.Status, error) {
	var st status.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return status.Status{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return st, nil
}
