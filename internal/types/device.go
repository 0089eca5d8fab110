package types

// HardwareProfile describes one gripper I/O build: where the analog channels
// and motor outputs live and how raw counts map to physical units.
type HardwareProfile struct {
	HardwareProfile HardwareProfileInfo  `json:"hardware_profile"`
	Connection      ConnectionConfig     `json:"connection"`
	Inputs          []RegisterDefinition `json:"inputs"`
	Outputs         []RegisterDefinition `json:"outputs"`
	Calibration     SensorCalibration    `json:"calibration"`
}

type HardwareProfileInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type ConnectionConfig struct {
	Protocol  string `json:"protocol,omitempty"`
	Address   string `json:"address,omitempty"`
	UnitID    int    `json:"unit_id"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

type RegisterDefinition struct {
	Name        string       `json:"name"`
	Address     uint16       `json:"address"`
	Type        RegisterType `json:"type"`
	DataType    DataType     `json:"data_type"`
	ScaleFactor float64      `json:"scale_factor"`
	// MaxValue is the register value written for full duty on PWM outputs.
	MaxValue    uint16 `json:"max_value,omitempty"`
	Unit        string `json:"unit"`
	Description string `json:"description"`
}

// SensorCalibration holds the fixed conversion constants of the sensor chain.
type SensorCalibration struct {
	GripRawMin int `json:"grip_raw_min"`
	GripRawMax int `json:"grip_raw_max"`

	ReferenceVoltage float64 `json:"reference_voltage"`
	FullScaleCounts  int     `json:"full_scale_counts"`

	CurrentZeroOffsetV      float64 `json:"current_zero_offset_v"`
	CurrentSensitivityVPerA float64 `json:"current_sensitivity_v_per_a"`
	CurrentRatedAmps        float64 `json:"current_rated_amps"`

	SupplyDividerRatio float64 `json:"supply_divider_ratio,omitempty"`
	SupplyEmptyV       float64 `json:"supply_empty_v,omitempty"`
	SupplyFullV        float64 `json:"supply_full_v,omitempty"`
}

type RegisterType string

const (
	RegisterTypeCoil            RegisterType = "coil"
	RegisterTypeInputRegister   RegisterType = "input_register"
	RegisterTypeHoldingRegister RegisterType = "holding_register"
)

type DataType string

const (
	DataTypeBool   DataType = "bool"
	DataTypeInt16  DataType = "int16"
	DataTypeUint16 DataType = "uint16"
)

// Logical register names the I/O layer looks for in a profile.
const (
	RegisterGripForce     = "grip_force"
	RegisterMotorCurrent  = "motor_current"
	RegisterSupplyVoltage = "supply_voltage"
	RegisterTemperature   = "temperature"
	RegisterHumidity      = "humidity"

	RegisterMotorForward = "motor_forward"
	RegisterMotorReverse = "motor_reverse"
	RegisterMotorPWM     = "motor_pwm"
)

// Input returns the input register with the given logical name.
func (p *HardwareProfile) Input(name string) (RegisterDefinition, bool) {
	for _, r := range p.Inputs {
		if r.Name == name {
			return r, true
		}
	}
	return RegisterDefinition{}, false
}

// Output returns the output register with the given logical name.
func (p *HardwareProfile) Output(name string) (RegisterDefinition, bool) {
	for _, r := range p.Outputs {
		if r.Name == name {
			return r, true
		}
	}
	return RegisterDefinition{}, false
}
