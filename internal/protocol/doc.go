// Package protocol implements the line protocol spoken with the attached
// device.
//
// Inbound lines that carry the trigger marker look like
//
//	<noise>configsnitch!<command>!<eui>[!...]
//
// and are decoded into a DeviceMessage. Outbound lines are the critical
// status relay (see package relay) and the connectivity report
//
//	serverconnection!<wan>!<lan>
//
// with booleans spelled True and False.
package protocol
