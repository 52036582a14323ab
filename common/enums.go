// Package common keeps enums shared between configuration and the packages
// that act on it, so neither has to import the other.
package common

//go:generate go tool go-enum --marshal --names --values

// HandleMode selects how cached resources are exposed to the presentation layer.
// ENUM(memory, file, inline)
type HandleMode int

// Revocable reports whether handles created in this mode have to be revoked.
func (m HandleMode) Revocable() bool {
	return m == HandleModeMemory || m == HandleModeFile
}
