package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client is a Modbus TCP master for one slave. A broken connection is
// dropped and re-dialed on the next request.
type Client struct {
	address       string
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	dial          func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewClient(address string, timeout time.Duration) *Client {
	d := &net.Dialer{Timeout: timeout}
	return &Client{
		address: address,
		timeout: timeout,
		dial:    d.DialContext,
	}
}

// Connect stellt TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, err := c.dial(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", c.address, err)
	}
	c.conn = conn
	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendFrame sendet ein Frame und wartet auf Response
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	raw, err := readFrame(c.conn)
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(raw)
	if response == nil {
		c.dropLocked()
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if response.TransactionID != request.TransactionID {
		c.dropLocked()
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}

	// exception responses keep the connection
	return response, err
}

// readFrame reads exactly one MBAP framed message.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, mbapLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapLength-1+length > maxFrameSize {
		return nil, fmt.Errorf("invalid length field %d", length)
	}

	frame := make([]byte, mbapLength-1+length)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[mbapLength:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, ReadHoldingRegistersRequest(unitID, startAddr, quantity), quantity)
}

func (c *Client) ReadInputRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, ReadInputRegistersRequest(unitID, startAddr, quantity), quantity)
}

func (c *Client) readRegisters(ctx context.Context, request *ModbusFrame, quantity uint16) ([]uint16, error) {
	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return nil, err
	}

	registers, err := response.ParseRegisterResponse()
	if err != nil {
		return nil, err
	}
	if len(registers) < int(quantity) {
		return nil, fmt.Errorf("expected %d registers, got %d", quantity, len(registers))
	}
	return registers, nil
}

// WriteSingleRegister schreibt ein einzelnes Register
func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error {
	response, err := c.SendFrame(ctx, WriteSingleRegisterRequest(unitID, addr, value))
	if err != nil {
		return err
	}
	return response.ParseEchoResponse(addr, value)
}

func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error {
	value := coilOff
	if on {
		value = coilOn
	}

	response, err := c.SendFrame(ctx, WriteSingleCoilRequest(unitID, addr, on))
	if err != nil {
		return err
	}
	return response.ParseEchoResponse(addr, value)
}
