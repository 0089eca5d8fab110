package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Machine tokens let the dashboard side inject commands without an operator
// login. Only their SHA-256 hashes are configured on the device.
const machineTokenPrefix = "ogc_"

type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// GenerateMachineToken returns the token and the hash to put into
// auth.machine_token_hashes. Format: ogc_<uuid>_<hex secret>
func (m *MachineTokenGenerator) GenerateMachineToken() (token, hash string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token = fmt.Sprintf("%s%s_%s", machineTokenPrefix, uuid.New().String(), hex.EncodeToString(secret))
	return token, m.HashToken(token), nil
}

func (m *MachineTokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks prefix and length before anything is hashed.
func (m *MachineTokenGenerator) ValidateTokenFormat(token string) bool {
	if len(token) != len(machineTokenPrefix)+36+1+64 {
		return false
	}
	if !strings.HasPrefix(token, machineTokenPrefix) {
		return false
	}
	_, err := uuid.Parse(token[len(machineTokenPrefix) : len(machineTokenPrefix)+36])
	return err == nil
}
