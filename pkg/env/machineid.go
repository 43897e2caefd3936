package env

import (
	"github.com/denisbrodbeck/machineid"
)

// MachineIDLength is the number of characters kept from the machine ID.
const MachineIDLength = 12

// FallbackID is used when the machine ID is unavailable.
const FallbackID = "payload"

// MachineID retrieves the shortened ID identifying the machine.
func MachineID() string {
	id, err := machineid.ID()
	if err != nil || id == "" {
		return FallbackID
	}
	if len(id) > MachineIDLength {
		id = id[:MachineIDLength]
	}
	return id
}
