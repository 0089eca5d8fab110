package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap/zaptest"
)

// fakeSlave is a minimal Modbus TCP slave backed by in-memory tables.
type fakeSlave struct {
	t        *testing.T
	listener net.Listener

	mu      sync.Mutex
	coils   map[uint16]bool
	input   map[uint16]uint16
	holding map[uint16]uint16
	// coil snapshots after every coil write
	history []map[uint16]bool
}

func newFakeSlave(t *testing.T) *fakeSlave {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &fakeSlave{
		t:        t,
		listener: l,
		coils:    map[uint16]bool{},
		input:    map[uint16]uint16{},
		holding:  map[uint16]uint16{},
	}
	go s.serve()
	t.Cleanup(func() { l.Close() })
	return s
}

func (s *fakeSlave) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSlave) handle(conn net.Conn) {
	defer conn.Close()
	for {
		raw, err := readFrame(conn)
		if err != nil {
			return
		}
		req, err := DecodeFrame(raw)
		if err != nil {
			return
		}
		if _, err := conn.Write(s.respond(req).Encode()); err != nil {
			return
		}
	}
}

func (s *fakeSlave) respond(req *ModbusFrame) *ModbusFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := binary.BigEndian.Uint16(req.Data[0:2])
	word := binary.BigEndian.Uint16(req.Data[2:4])
	resp := &ModbusFrame{TransactionID: req.TransactionID, UnitID: req.UnitID, FunctionCode: req.FunctionCode}

	switch req.FunctionCode {
	case FuncCodeReadInputRegisters, FuncCodeReadHoldingRegisters:
		table := s.input
		if req.FunctionCode == FuncCodeReadHoldingRegisters {
			table = s.holding
		}
		data := []byte{byte(word * 2)}
		for i := uint16(0); i < word; i++ {
			v, ok := table[addr+i]
			if !ok {
				return &ModbusFrame{TransactionID: req.TransactionID, UnitID: req.UnitID,
					FunctionCode: req.FunctionCode | exceptionFlag, Data: []byte{0x02}}
			}
			data = binary.BigEndian.AppendUint16(data, v)
		}
		resp.Data = data

	case FuncCodeWriteSingleCoil:
		s.coils[addr] = word == coilOn
		snapshot := make(map[uint16]bool, len(s.coils))
		for k, v := range s.coils {
			snapshot[k] = v
		}
		s.history = append(s.history, snapshot)
		resp.Data = req.Data

	case FuncCodeWriteSingleRegister:
		s.holding[addr] = word
		resp.Data = req.Data
	}

	return resp
}

func (s *fakeSlave) setInput(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input[addr] = value
}

func testProfile(address string) *types.HardwareProfile {
	return &types.HardwareProfile{
		HardwareProfile: types.HardwareProfileInfo{ID: "test-io"},
		Connection:      types.ConnectionConfig{Protocol: "modbus_tcp", Address: address, UnitID: 1, TimeoutMs: 500},
		Inputs: []types.RegisterDefinition{
			{Name: types.RegisterGripForce, Address: 0, Type: types.RegisterTypeInputRegister, DataType: types.DataTypeUint16},
			{Name: types.RegisterMotorCurrent, Address: 1, Type: types.RegisterTypeInputRegister, DataType: types.DataTypeUint16},
			{Name: types.RegisterTemperature, Address: 10, Type: types.RegisterTypeInputRegister, DataType: types.DataTypeInt16, ScaleFactor: 0.1},
			{Name: types.RegisterHumidity, Address: 11, Type: types.RegisterTypeInputRegister, DataType: types.DataTypeUint16, ScaleFactor: 0.1},
		},
		Outputs: []types.RegisterDefinition{
			{Name: types.RegisterMotorForward, Address: 0, Type: types.RegisterTypeCoil, DataType: types.DataTypeBool},
			{Name: types.RegisterMotorReverse, Address: 1, Type: types.RegisterTypeCoil, DataType: types.DataTypeBool},
			{Name: types.RegisterMotorPWM, Address: 100, Type: types.RegisterTypeHoldingRegister, DataType: types.DataTypeUint16, MaxValue: 1000},
		},
	}
}

func newTestDevice(t *testing.T) (*Device, *fakeSlave) {
	t.Helper()
	slave := newFakeSlave(t)
	dev, err := NewDevice(testProfile(slave.listener.Addr().String()), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if err := dev.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev, slave
}

func TestDevice_ReadRaw(t *testing.T) {
	dev, slave := newTestDevice(t)
	slave.setInput(0, 2048)
	slave.setInput(1, 3103)

	ctx := context.Background()

	raw, err := dev.ReadRaw(ctx, hardware.ChannelGripForce)
	if err != nil || raw != 2048 {
		t.Errorf("ReadRaw(grip_force) = %d, %v, want 2048", raw, err)
	}
	raw, err = dev.ReadRaw(ctx, hardware.ChannelMotorCurrent)
	if err != nil || raw != 3103 {
		t.Errorf("ReadRaw(motor_current) = %d, %v, want 3103", raw, err)
	}

	if _, err := dev.ReadRaw(ctx, hardware.ChannelSupplyVoltage); !errors.Is(err, hardware.ErrChannelNotFitted) {
		t.Errorf("ReadRaw(supply_voltage) error = %v, want ErrChannelNotFitted", err)
	}
}

func TestDevice_ReadRawException(t *testing.T) {
	dev, _ := newTestDevice(t)

	_, err := dev.ReadRaw(context.Background(), hardware.ChannelGripForce)
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Code != 0x02 {
		t.Fatalf("error = %v, want illegal data address exception", err)
	}

	// the connection survives an exception
	if _, err := dev.ReadRaw(context.Background(), hardware.ChannelGripForce); !errors.As(err, &exc) {
		t.Errorf("second read error = %v", err)
	}
}

func TestDevice_ReadEnvironment(t *testing.T) {
	dev, slave := newTestDevice(t)
	slave.setInput(10, uint16(0xFFFF-19)) // -2.0 C
	slave.setInput(11, 455)

	env, err := dev.ReadEnvironment(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if env.Temperature < -2.01 || env.Temperature > -1.99 {
		t.Errorf("Temperature = %f, want -2.0", env.Temperature)
	}
	if env.Humidity < 45.49 || env.Humidity > 45.51 {
		t.Errorf("Humidity = %f, want 45.5", env.Humidity)
	}
}

func TestDevice_DriveNeverAssertsBoth(t *testing.T) {
	dev, slave := newTestDevice(t)
	ctx := context.Background()

	steps := []struct {
		dir  hardware.Direction
		duty float64
	}{
		{hardware.DirectionForward, 0.9},
		{hardware.DirectionReverse, 0.5},
		{hardware.DirectionForward, 0.5},
		{hardware.DirectionReverse, 0.9},
	}

	for _, st := range steps {
		if err := dev.Drive(ctx, st.dir, st.duty); err != nil {
			t.Fatalf("Drive(%s) error = %v", st.dir, err)
		}
		out := dev.Outputs()
		if out.Forward != (st.dir == hardware.DirectionForward) || out.Reverse != (st.dir == hardware.DirectionReverse) {
			t.Errorf("Outputs() after %s = %+v", st.dir, out)
		}
	}

	if err := dev.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	slave.mu.Lock()
	defer slave.mu.Unlock()

	for i, coils := range slave.history {
		if coils[0] && coils[1] {
			t.Fatalf("coil write %d left both directions asserted", i)
		}
	}
	if slave.coils[0] || slave.coils[1] {
		t.Errorf("coils after Stop = %v", slave.coils)
	}
	if slave.holding[100] != 0 {
		t.Errorf("PWM after Stop = %d, want 0", slave.holding[100])
	}
}

func TestDevice_DriveWritesPWM(t *testing.T) {
	dev, slave := newTestDevice(t)

	if err := dev.Drive(context.Background(), hardware.DirectionForward, 0.9); err != nil {
		t.Fatal(err)
	}

	slave.mu.Lock()
	defer slave.mu.Unlock()
	if slave.holding[100] != 900 {
		t.Errorf("PWM = %d, want 900", slave.holding[100])
	}
}

func TestDevice_Reconnects(t *testing.T) {
	dev, slave := newTestDevice(t)
	slave.setInput(0, 100)

	dev.Client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if raw, err := dev.ReadRaw(ctx, hardware.ChannelGripForce); err != nil || raw != 100 {
		t.Errorf("ReadRaw() after close = %d, %v", raw, err)
	}
}

func TestNewDevice_RequiresRegisters(t *testing.T) {
	p := testProfile("127.0.0.1:502")
	p.Outputs = p.Outputs[2:]

	if _, err := NewDevice(p, zaptest.NewLogger(t)); err == nil {
		t.Error("NewDevice() accepted profile without direction outputs")
	}
}
