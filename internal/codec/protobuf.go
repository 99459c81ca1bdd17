package codec

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"corral/internal/request"
	"corral/internal/status"
)

// Field numbers of the proto3 messages:
//
//	message ContainerRequest {
//	  Operation operation = 1;     // 0 unspecified, 1 CheckAvailable .. 6 Remove
//	  Runtime runtime = 2;         // 0 unspecified, 1 Docker, 2 Podman
//	  AccessMode access_mode = 3;  // 0 unspecified, 1 CLI, 2 API
//	  string container_id = 4;
//	  string image_name = 5;
//	  string container_name = 6;
//	  map<string, string> environment = 7;
//	  repeated string ports = 8;
//	  repeated string volumes = 9;
//	  double cpus = 10;
//	  string memory = 11;
//	  int64 pids_limit = 12;
//	  string restart_policy = 13;
//	  string correlation_id = 14;
//	}
//
//	message Status {
//	  bool success = 1;
//	  string message = 2;
//	  string container_id = 3;
//	  ErrorCode error_code = 4;
//	  string correlation_id = 5;
//	}
const (
	reqOperation     protowire.Number = 1
	reqRuntime       protowire.Number = 2
	reqAccessMode    protowire.Number = 3
	reqContainerID   protowire.Number = 4
	reqImageName     protowire.Number = 5
	reqContainerName protowire.Number = 6
	reqEnvironment   protowire.Number = 7
	reqPorts         protowire.Number = 8
	reqVolumes       protowire.Number = 9
	reqCPUs          protowire.Number = 10
	reqMemory        protowire.Number = 11
	reqPidsLimit     protowire.Number = 12
	reqRestartPolicy protowire.Number = 13
	reqCorrelationID protowire.Number = 14

	stSuccess       protowire.Number = 1
	stMessage       protowire.Number = 2
	stContainerID   protowire.Number = 3
	stErrorCode     protowire.Number = 4
	stCorrelationID protowire.Number = 5

	mapKey   protowire.Number = 1
	mapValue protowire.Number = 2
)

// ProtobufCodec speaks the proto3 binary encoding of the messages above.
type ProtobufCodec struct{}

func (ProtobufCodec) Encoding() Encoding { return Protobuf }

func (ProtobufCodec) EncodeRequest(req request.ContainerRequest) ([]byte, error) {
	if !req.Operation.Valid() || !req.Runtime.Valid() || !req.AccessMode.Valid() {
		return nil, fmt.Errorf("encode request: %w", request.ErrUnrecognizedEnum)
	}

	var b []byte
	b = appendVarint(b, reqOperation, uint64(req.Operation))
	b = appendVarint(b, reqRuntime, uint64(req.Runtime))
	b = appendVarint(b, reqAccessMode, uint64(req.AccessMode))
	b = appendString(b, reqContainerID, req.ContainerID)
	b = appendString(b, reqImageName, req.ImageName)
	b = appendString(b, reqContainerName, req.ContainerName)

	keys := make([]string, 0, len(req.Environment))
	for k := range req.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, mapKey, k)
		entry = appendString(entry, mapValue, req.Environment[k])
		b = protowire.AppendTag(b, reqEnvironment, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	for _, p := range req.Ports {
		b = protowire.AppendTag(b, reqPorts, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	for _, v := range req.Volumes {
		b = protowire.AppendTag(b, reqVolumes, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	if req.CPUs != 0 {
		b = protowire.AppendTag(b, reqCPUs, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(req.CPUs))
	}
	b = appendString(b, reqMemory, req.Memory)
	b = appendVarint(b, reqPidsLimit, uint64(req.PidsLimit))
	b = appendString(b, reqRestartPolicy, req.RestartPolicy)
	b = appendString(b, reqCorrelationID, req.CorrelationID)
	return b, nil
}

func (ProtobufCodec) DecodeRequest(data []byte) (request.ContainerRequest, error) {
	var req request.ContainerRequest
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return request.ContainerRequest{}, decodeErr(n)
		}
		b = b[n:]

		switch {
		case num == reqOperation && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			req.Operation = request.Operation(clampEnum(v))
			b = b[n:]
		case num == reqRuntime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			req.Runtime = request.Runtime(clampEnum(v))
			b = b[n:]
		case num == reqAccessMode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			req.AccessMode = request.AccessMode(clampEnum(v))
			b = b[n:]
		case num == reqPidsLimit && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			req.PidsLimit = int64(v)
			b = b[n:]
		case num == reqCPUs && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			req.CPUs = math.Float64frombits(v)
			b = b[n:]
		case num == reqEnvironment && typ == protowire.BytesType:
			entry, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			k, v, err := decodeMapEntry(entry)
			if err != nil {
				return request.ContainerRequest{}, err
			}
			if req.Environment == nil {
				req.Environment = make(map[string]string)
			}
			req.Environment[k] = v
			b = b[n:]
		case typ == protowire.BytesType && isRequestString(num):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			setRequestString(&req, num, s)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return request.ContainerRequest{}, decodeErr(n)
			}
			b = b[n:]
		}
	}

	if !req.Operation.Valid() {
		return request.ContainerRequest{}, fmt.Errorf("%w: operation %d", request.ErrUnrecognizedEnum, int(req.Operation))
	}
	if !req.Runtime.Valid() {
		return request.ContainerRequest{}, fmt.Errorf("%w: runtime %d", request.ErrUnrecognizedEnum, int(req.Runtime))
	}
	if !req.AccessMode.Valid() {
		return request.ContainerRequest{}, fmt.Errorf("%w: access mode %d", request.ErrUnrecognizedEnum, int(req.AccessMode))
	}
	return req, nil
}

func (ProtobufCodec) EncodeStatus(st status.Status) ([]byte, error) {
	if !st.ErrorCode.Valid() {
		return nil, fmt.Errorf("encode status: invalid error code %d", int(st.ErrorCode))
	}
	var b []byte
	if st.Success {
		b = appendVarint(b, stSuccess, protowire.EncodeBool(true))
	}
	b = appendString(b, stMessage, st.Message)
	b = appendString(b, stContainerID, st.ContainerID)
	b = appendVarint(b, stErrorCode, uint64(st.ErrorCode))
	b = appendString(b, stCorrelationID, st.CorrelationID)
	return b, nil
}

func (ProtobufCodec) DecodeStatus(data []byte) (status.Status, error) {
	var st status.Status
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return status.Status{}, decodeErr(n)
		}
		b = b[n:]

		switch {
		case (num == stSuccess || num == stErrorCode) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return status.Status{}, decodeErr(n)
			}
			if num == stSuccess {
				st.Success = protowire.DecodeBool(v)
			} else {
				st.ErrorCode = status.Code(clampEnum(v))
			}
			b = b[n:]
		case (num == stMessage || num == stContainerID || num == stCorrelationID) && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return status.Status{}, decodeErr(n)
			}
			switch num {
			case stMessage:
				st.Message = s
			case stContainerID:
				st.ContainerID = s
			default:
				st.CorrelationID = s
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return status.Status{}, decodeErr(n)
			}
			b = b[n:]
		}
	}
	if !st.ErrorCode.Valid() {
		return status.Status{}, fmt.Errorf("%w: error code %d", ErrDecode, int(st.ErrorCode))
	}
	return st, nil
}

func isRequestString(num protowire.Number) bool {
	switch num {
	case reqContainerID, reqImageName, reqContainerName, reqPorts, reqVolumes,
		reqMemory, reqRestartPolicy, reqCorrelationID:
		return true
	}
	return false
}

func setRequestString(req *request.ContainerRequest, num protowire.Number, s string) {
	switch num {
	case reqContainerID:
		req.ContainerID = s
	case reqImageName:
		req.ImageName = s
	case reqContainerName:
		req.ContainerName = s
	case reqPorts:
		req.Ports = append(req.Ports, s)
	case reqVolumes:
		req.Volumes = append(req.Volumes, s)
	case reqMemory:
		req.Memory = s
	case reqRestartPolicy:
		req.RestartPolicy = s
	case reqCorrelationID:
		req.CorrelationID = s
	}
}

func decodeMapEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", decodeErr(n)
		}
		b = b[n:]
		if typ == protowire.BytesType && (num == mapKey || num == mapValue) {
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", decodeErr(n)
			}
			if num == mapKey {
				key = s
			} else {
				value = s
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return "", "", decodeErr(n)
		}
		b = b[n:]
	}
	return key, value, nil
}

// clampEnum maps values that do not fit an int32 enum to an invalid value.
func clampEnum(v uint64) int {
	if v > math.MaxInt32 {
		return -1
	}
	return int(v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func decodeErr(n int) error {
	return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
}
