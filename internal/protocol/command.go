package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the action a device asks the agent to perform.
type Command int

const (
	// CommandUnrecognized is any well-formed integer code outside the known set.
	CommandUnrecognized Command = 0
	// CommandBufferUntilInternet gathers telemetry and holds it locally.
	CommandBufferUntilInternet Command = 1
	// CommandSendToAPI gathers telemetry and delivers it with any backlog.
	CommandSendToAPI Command = 2
	// CommandCheckInternet reports WAN and LAN reachability to the device.
	CommandCheckInternet Command = 3
)

func (c Command) String() string {
	switch c {
	case CommandBufferUntilInternet:
		return "buffer_until_internet"
	case CommandSendToAPI:
		return "send_to_api"
	case CommandCheckInternet:
		return "check_internet"
	default:
		return "unrecognized"
	}
}

// ParseCommand maps a command field to a Command. Integers outside the known
// set map to CommandUnrecognized; a field that is not an integer is an error.
func ParseCommand(field string) (Command, int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return CommandUnrecognized, 0, fmt.Errorf("command field %q is not an integer: %w", field, err)
	}
	switch Command(code) {
	case CommandBufferUntilInternet, CommandSendToAPI, CommandCheckInternet:
		return Command(code), code, nil
	default:
		return CommandUnrecognized, code, nil
	}
}

// DeviceMessage is one decoded trigger line.
type DeviceMessage struct {
	Command Command
	// Code is the integer sent by the device, kept for unrecognized commands.
	Code int
	EUI  string
}
