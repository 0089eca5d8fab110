package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type ModbusFrame struct {
	TransactionID uint16 // Request/Response Korrelation
	ProtocolID    uint16 // Immer 0x0000 für Modbus
	Length        uint16 // Anzahl folgender Bytes inkl. UnitID
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadCoils            = 0x01
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04
	FuncCodeWriteSingleCoil      = 0x05
	FuncCodeWriteSingleRegister  = 0x06

	exceptionFlag = 0x80
	mbapLength    = 7
	maxFrameSize  = 260
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

var ErrShortFrame = errors.New("frame too short")

// ExceptionError is a Modbus exception response from the slave.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X", e.Code, e.FunctionCode)
}

// Encode erstellt das komplette TCP Frame
func (f *ModbusFrame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // UnitID + FunctionCode

	frame := make([]byte, mbapLength+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses one complete frame. Exception responses are returned as
// *ExceptionError together with the frame.
func DecodeFrame(data []byte) (*ModbusFrame, error) {
	if len(data) < mbapLength+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	frame := &ModbusFrame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}
	if int(frame.Length) != len(data)-6 {
		return nil, fmt.Errorf("length field %d does not match %d bytes", frame.Length, len(data)-6)
	}

	if len(data) > mbapLength+1 {
		frame.Data = data[mbapLength+1:]
	}

	if frame.FunctionCode&exceptionFlag != 0 {
		var code uint8
		if len(frame.Data) > 0 {
			code = frame.Data[0]
		}
		return frame, &ExceptionError{FunctionCode: frame.FunctionCode &^ exceptionFlag, Code: code}
	}

	return frame, nil
}

// addressRequest builds the common "address + uint16" request shape shared by
// reads (quantity) and single writes (value).
func addressRequest(unitID uint8, function uint8, addr uint16, word uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], word)

	return &ModbusFrame{
		UnitID:       unitID,
		FunctionCode: function,
		Data:         data,
	}
}

func ReadHoldingRegistersRequest(unitID uint8, startAddr, quantity uint16) *ModbusFrame {
	return addressRequest(unitID, FuncCodeReadHoldingRegisters, startAddr, quantity)
}

func ReadInputRegistersRequest(unitID uint8, startAddr, quantity uint16) *ModbusFrame {
	return addressRequest(unitID, FuncCodeReadInputRegisters, startAddr, quantity)
}

func WriteSingleRegisterRequest(unitID uint8, addr, value uint16) *ModbusFrame {
	return addressRequest(unitID, FuncCodeWriteSingleRegister, addr, value)
}

func WriteSingleCoilRequest(unitID uint8, addr uint16, on bool) *ModbusFrame {
	value := coilOff
	if on {
		value = coilOn
	}
	return addressRequest(unitID, FuncCodeWriteSingleCoil, addr, value)
}

// ParseRegisterResponse parst Holding/Input Register Response
func (f *ModbusFrame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := int(f.Data[0])
	if byteCount%2 != 0 || len(f.Data) < byteCount+1 {
		return nil, fmt.Errorf("incomplete response data")
	}

	registers := make([]uint16, byteCount/2)
	for i := range registers {
		offset := 1 + i*2
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}

// ParseEchoResponse checks the echo of a single write.
func (f *ModbusFrame) ParseEchoResponse(addr, value uint16) error {
	if len(f.Data) < 4 {
		return fmt.Errorf("response too short")
	}
	gotAddr := binary.BigEndian.Uint16(f.Data[0:2])
	gotValue := binary.BigEndian.Uint16(f.Data[2:4])
	if gotAddr != addr || gotValue != value {
		return fmt.Errorf("write echo mismatch: %d=%d, want %d=%d", gotAddr, gotValue, addr, value)
	}
	return nil
}
