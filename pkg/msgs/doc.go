// Package msgs provides the payload control protocol and its message
// schemas.
package msgs

// The protocol is carried over MQTT between the flight process and the
// ground tools. Every message travels in an Envelope tagged with a type ID;
// commands carry a sequence number echoed by their reply.
//
// Producer: payloadd (replies, status, console), payloadcli (commands)
// Consumer: the other side
