package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/hardware-profile-v1.json
var hardwareProfileSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("hardware-profile-v1.json",
		strings.NewReader(hardwareProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("hardware-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateProfile checks a JSON document against the schema.
func (v *Validator) ValidateProfile(data []byte) error {
	var profile interface{}
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(profile); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// checkCalibration covers the cross-field rules the schema cannot express.
func checkCalibration(c types.SensorCalibration) error {
	if c.GripRawMax <= c.GripRawMin {
		return fmt.Errorf("grip_raw_max %d must exceed grip_raw_min %d", c.GripRawMax, c.GripRawMin)
	}
	if c.GripRawMax > c.FullScaleCounts {
		return fmt.Errorf("grip_raw_max %d exceeds full_scale_counts %d", c.GripRawMax, c.FullScaleCounts)
	}
	if c.SupplyDividerRatio > 0 && c.SupplyFullV <= c.SupplyEmptyV {
		return fmt.Errorf("supply_full_v must exceed supply_empty_v")
	}
	return nil
}
