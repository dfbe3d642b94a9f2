package devicebus

import (
	"fmt"
	"strings"
)

// MessageType names the per-machine topics: vm/{machine_id}/{type}.
type MessageType string

const (
	TypeCommand        MessageType = "command"
	TypeTelemetry      MessageType = "telemetry"
	TypeDispenseResult MessageType = "dispense_result"
	TypeStatus         MessageType = "status"
)

func Topic(machineID string, t MessageType) string {
	return fmt.Sprintf("vm/%s/%s", machineID, t)
}

// Pattern matches the topic of one message type across all machines.
func Pattern(t MessageType) string {
	return fmt.Sprintf("vm/*/%s", t)
}

// MachineFromTopic extracts the machine id from vm/{machine_id}/{type}.
func MachineFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "vm" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// DispenseCommand instructs the machine to run one slot's motor. Delivery is
// at-least-once; the confirm path is idempotent to duplicates.
type DispenseCommand struct {
	Cmd       string `json:"cmd"`
	Slot      int    `json:"slot"`
	OrderID   string `json:"orderId"`
	TimeoutMs int    `json:"timeoutMs"`
}

// DispenseResult is the machine's confirmation for one command.
type DispenseResult struct {
	OrderID      string `json:"orderId"`
	Slot         int    `json:"slot"`
	Success      bool   `json:"success"`
	DropDetected bool   `json:"dropDetected"`
	DurationMs   int    `json:"durationMs"`
	Error        string `json:"error,omitempty"`
}

// TelemetryReport carries the periodic coarse fill levels for all slots.
type TelemetryReport struct {
	Slots []TelemetrySlot `json:"slots"`
}

type TelemetrySlot struct {
	ID    int    `json:"id"`
	Level string `json:"level"`
}

// StatusReport is the machine heartbeat.
type StatusReport struct {
	Status string `json:"status"`
	Door   string `json:"door"`
	RSSI   int    `json:"rssi"`
	FW     string `json:"fw"`
}
