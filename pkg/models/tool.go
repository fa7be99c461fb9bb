// Package models contains domain types for the ANI job engine.
package models

import "strings"

// ToolFamily identifies the external ANI program behind a tool version.
type ToolFamily string

const (
	FamilySkani   ToolFamily = "skani"
	FamilyFastANI ToolFamily = "fastani"
)

// ToolVersion is a tool-version identifier such as "skani_0.2.2".
type ToolVersion string

// Family returns the tool family encoded in the version prefix, or "" if unknown.
func (v ToolVersion) Family() ToolFamily {
	family, _, ok := strings.Cut(string(v), "_")
	if !ok {
		return ""
	}
	switch ToolFamily(family) {
	case FamilySkani, FamilyFastANI:
		return ToolFamily(family)
	}
	return ""
}

// Release returns the version number without the family prefix.
func (v ToolVersion) Release() string {
	_, release, _ := strings.Cut(string(v), "_")
	return release
}
