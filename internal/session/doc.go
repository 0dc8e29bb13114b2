// Package session runs the agent's control loop: it waits for device
// commands, gathers telemetry, delivers or buffers it, and reports back to
// the device.
package session
