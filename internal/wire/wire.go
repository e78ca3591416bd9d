// Package wire marshals and unmarshals the typed RPC argument/response
// payloads named in the well-known RPC table, plus the packed 32-bit error
// code format, following the manual binary.LittleEndian struct-field
// encoding style used for the rest of this codebase's wire structs.
package wire

import (
	"encoding/binary"
	"fmt"
)

// wireError is this package's self-contained error type; see the same
// idiom in streamer/rpcqueue/loop for why it does not import the
// top-level package.
type wireError struct {
	kind string
	msg  string
}

func (e *wireError) Error() string { return e.msg }

// KindInvalidArgument classifies a malformed or truncated payload.
const KindInvalidArgument = "invalid_argument"

// Kind reports the classification of an error returned by this package, or
// "" if err did not originate here.
func Kind(err error) string {
	if e, ok := err.(*wireError); ok {
		return e.kind
	}
	return ""
}

func tooShort(op string, want, got int) error {
	return &wireError{kind: KindInvalidArgument, msg: fmt.Sprintf("%s: need %d bytes, got %d", op, want, got)}
}

// PackError combines a subsystem id and an application error code into the
// 32-bit long-error format: (subsystem<<16) | code. Global error codes use
// subsystem 0; tile-private codes use subsystem >= 0x8000.
func PackError(subsystem, code uint16) uint32 {
	return (uint32(subsystem) << 16) | uint32(code)
}

// UnpackError splits a packed 32-bit error back into its subsystem and code.
func UnpackError(packed uint32) (subsystem, code uint16) {
	return uint16(packed >> 16), uint16(packed & 0xFFFF)
}

// RegisterTileArgs is the argument payload for REGISTER_TILE.
type RegisterTileArgs struct {
	HWType    uint8
	APIMajor  uint8
	APIMinor  uint8
	Name      [6]byte
	FWVersion [3]uint8
	ExecInfo  [3]uint8
	Slot      uint8
	UniqueID  uint32
}

// MarshalRegisterTileArgs encodes a into its 20-byte wire form: a 16-byte
// header followed by the 4-byte unique id.
func MarshalRegisterTileArgs(a RegisterTileArgs) []byte {
	buf := make([]byte, 16)
	buf[0] = a.HWType
	buf[1] = a.APIMajor
	buf[2] = a.APIMinor
	copy(buf[3:9], a.Name[:])
	buf[9] = a.FWVersion[0]
	buf[10] = a.FWVersion[1]
	buf[11] = a.FWVersion[2]
	buf[12] = a.ExecInfo[0]
	buf[13] = a.ExecInfo[1]
	buf[14] = a.ExecInfo[2]
	buf[15] = a.Slot
	// UniqueID is appended after the fixed 16-byte header.
	out := make([]byte, 20)
	copy(out, buf)
	binary.LittleEndian.PutUint32(out[16:20], a.UniqueID)
	return out
}

// UnmarshalRegisterTileArgs decodes REGISTER_TILE's argument payload.
func UnmarshalRegisterTileArgs(data []byte) (RegisterTileArgs, error) {
	if len(data) < 20 {
		return RegisterTileArgs{}, tooShort("unmarshal_register_tile_args", 20, len(data))
	}
	var a RegisterTileArgs
	a.HWType = data[0]
	a.APIMajor = data[1]
	a.APIMinor = data[2]
	copy(a.Name[:], data[3:9])
	a.FWVersion = [3]uint8{data[9], data[10], data[11]}
	a.ExecInfo = [3]uint8{data[12], data[13], data[14]}
	a.Slot = data[15]
	a.UniqueID = binary.LittleEndian.Uint32(data[16:20])
	return a, nil
}

// RegisterTileResp is REGISTER_TILE's response payload.
type RegisterTileResp struct {
	AssignedAddress uint16
	RunLevel        uint16
	DebugMode       uint16
}

// MarshalRegisterTileResp encodes r into its 6-byte wire form.
func MarshalRegisterTileResp(r RegisterTileResp) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], r.AssignedAddress)
	binary.LittleEndian.PutUint16(buf[2:4], r.RunLevel)
	binary.LittleEndian.PutUint16(buf[4:6], r.DebugMode)
	return buf
}

// UnmarshalRegisterTileResp decodes REGISTER_TILE's response payload.
func UnmarshalRegisterTileResp(data []byte) (RegisterTileResp, error) {
	if len(data) < 6 {
		return RegisterTileResp{}, tooShort("unmarshal_register_tile_resp", 6, len(data))
	}
	return RegisterTileResp{
		AssignedAddress: binary.LittleEndian.Uint16(data[0:2]),
		RunLevel:        binary.LittleEndian.Uint16(data[2:4]),
		DebugMode:       binary.LittleEndian.Uint16(data[4:6]),
	}, nil
}

// SetConfigVariableArgs is SET_CONFIG_VARIABLE's argument payload: a config
// id, an offset, and up to 16 bytes of chunked value data.
type SetConfigVariableArgs struct {
	ConfigID uint16
	Offset   uint16
	Data     []byte // at most 16 bytes
}

// MarshalSetConfigVariableArgs encodes a. Data longer than 16 bytes is an
// invalid-argument error, per the chunking contract in §4.5.
func MarshalSetConfigVariableArgs(a SetConfigVariableArgs) ([]byte, error) {
	if len(a.Data) > 16 {
		return nil, &wireError{kind: KindInvalidArgument, msg: fmt.Sprintf("set_config_variable: chunk of %d bytes exceeds the 16-byte limit", len(a.Data))}
	}
	buf := make([]byte, 4+len(a.Data))
	binary.LittleEndian.PutUint16(buf[0:2], a.ConfigID)
	binary.LittleEndian.PutUint16(buf[2:4], a.Offset)
	copy(buf[4:], a.Data)
	return buf, nil
}

// UnmarshalSetConfigVariableArgs decodes SET_CONFIG_VARIABLE's argument
// payload.
func UnmarshalSetConfigVariableArgs(data []byte) (SetConfigVariableArgs, error) {
	if len(data) < 4 {
		return SetConfigVariableArgs{}, tooShort("unmarshal_set_config_variable_args", 4, len(data))
	}
	a := SetConfigVariableArgs{
		ConfigID: binary.LittleEndian.Uint16(data[0:2]),
		Offset:   binary.LittleEndian.Uint16(data[2:4]),
	}
	a.Data = append([]byte(nil), data[4:]...)
	return a, nil
}

// MarshalSetConfigVariableResp encodes SET_CONFIG_VARIABLE's single u16
// error-code response.
func MarshalSetConfigVariableResp(errCode uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, errCode)
	return buf
}

// UnmarshalSetConfigVariableResp decodes SET_CONFIG_VARIABLE's response.
func UnmarshalSetConfigVariableResp(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, tooShort("unmarshal_set_config_variable_resp", 2, len(data))
	}
	return binary.LittleEndian.Uint16(data[0:2]), nil
}

// GetConfigVariableArgs is GET_CONFIG_VARIABLE's argument payload.
type GetConfigVariableArgs struct {
	ConfigID uint16
	Offset   uint16
}

// MarshalGetConfigVariableArgs encodes a into its 4-byte wire form.
func MarshalGetConfigVariableArgs(a GetConfigVariableArgs) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], a.ConfigID)
	binary.LittleEndian.PutUint16(buf[2:4], a.Offset)
	return buf
}

// UnmarshalGetConfigVariableArgs decodes GET_CONFIG_VARIABLE's argument
// payload.
func UnmarshalGetConfigVariableArgs(data []byte) (GetConfigVariableArgs, error) {
	if len(data) < 4 {
		return GetConfigVariableArgs{}, tooShort("unmarshal_get_config_variable_args", 4, len(data))
	}
	return GetConfigVariableArgs{
		ConfigID: binary.LittleEndian.Uint16(data[0:2]),
		Offset:   binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// ListConfigVariablesResp is LIST_CONFIG_VARIABLES' response: a count plus
// up to 9 config ids.
type ListConfigVariablesResp struct {
	Count     uint16
	ConfigIDs [9]uint16
}

// MarshalListConfigVariablesResp encodes r into its 20-byte wire form.
func MarshalListConfigVariablesResp(r ListConfigVariablesResp) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint16(buf[0:2], r.Count)
	for i, id := range r.ConfigIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:4+i*2], id)
	}
	return buf
}

// UnmarshalListConfigVariablesResp decodes LIST_CONFIG_VARIABLES' response.
func UnmarshalListConfigVariablesResp(data []byte) (ListConfigVariablesResp, error) {
	if len(data) < 20 {
		return ListConfigVariablesResp{}, tooShort("unmarshal_list_config_variables_resp", 20, len(data))
	}
	var r ListConfigVariablesResp
	r.Count = binary.LittleEndian.Uint16(data[0:2])
	for i := range r.ConfigIDs {
		r.ConfigIDs[i] = binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2])
	}
	return r, nil
}

// DescribeConfigVariableResp is DESCRIBE_CONFIG_VARIABLE's response.
type DescribeConfigVariableResp struct {
	ErrCode      uint16
	ConfigID     uint16
	DefaultValue uint32
	ConfigType   uint16
	Flags        uint16
}

// MarshalDescribeConfigVariableResp encodes r into its 12-byte wire form.
func MarshalDescribeConfigVariableResp(r DescribeConfigVariableResp) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], r.ErrCode)
	binary.LittleEndian.PutUint16(buf[2:4], r.ConfigID)
	binary.LittleEndian.PutUint32(buf[4:8], r.DefaultValue)
	binary.LittleEndian.PutUint16(buf[8:10], r.ConfigType)
	binary.LittleEndian.PutUint16(buf[10:12], r.Flags)
	return buf
}

// UnmarshalDescribeConfigVariableResp decodes DESCRIBE_CONFIG_VARIABLE's
// response.
func UnmarshalDescribeConfigVariableResp(data []byte) (DescribeConfigVariableResp, error) {
	if len(data) < 12 {
		return DescribeConfigVariableResp{}, tooShort("unmarshal_describe_config_variable_resp", 12, len(data))
	}
	return DescribeConfigVariableResp{
		ErrCode:      binary.LittleEndian.Uint16(data[0:2]),
		ConfigID:     binary.LittleEndian.Uint16(data[2:4]),
		DefaultValue: binary.LittleEndian.Uint32(data[4:8]),
		ConfigType:   binary.LittleEndian.Uint16(data[8:10]),
		Flags:        binary.LittleEndian.Uint16(data[10:12]),
	}, nil
}

// MarshalU32 and UnmarshalU32 pack/unpack the bare 32-bit argument or
// result used by call_rpc and by the simple echo-style demo RPCs.
func MarshalU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func UnmarshalU32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, tooShort("unmarshal_u32", 4, len(data))
	}
	return binary.LittleEndian.Uint32(data[0:4]), nil
}
