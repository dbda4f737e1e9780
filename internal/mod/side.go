package mod

import (
	"fmt"
	"strings"
)

// Side classifies an execution context.
type Side int

const (
	SideBoth Side = iota
	SideClient
	SideServer
)

// Permission tags that restrict a mod to one side.
const (
	PermissionClientOnly = "client_only"
	PermissionServerOnly = "server_only"
)

func (s Side) String() string {
	switch s {
	case SideClient:
		return "client"
	case SideServer:
		return "server"
	default:
		return "both"
	}
}

// ParseSide parses "client", "server" or "both".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return SideBoth, nil
	case "client":
		return SideClient, nil
	case "server":
		return SideServer, nil
	default:
		return SideBoth, fmt.Errorf("unknown side %q (expected client, server or both)", s)
	}
}

// SideClassifier answers which side is running and which side a mod needs.
type SideClassifier interface {
	CurrentSide() Side
	RequiredSide(meta Metadata) Side
}

// PermissionClassifier infers a mod's side from its permission tags.
type PermissionClassifier struct {
	Current Side
}

// CurrentSide implements SideClassifier.
func (p PermissionClassifier) CurrentSide() Side { return p.Current }

// RequiredSide implements SideClassifier.
func (p PermissionClassifier) RequiredSide(meta Metadata) Side {
	client := meta.HasPermission(PermissionClientOnly)
	server := meta.HasPermission(PermissionServerOnly)
	switch {
	case client && !server:
		return SideClient
	case server && !client:
		return SideServer
	default:
		return SideBoth
	}
}

// Applicable reports whether a mod requiring required may run on current.
func Applicable(current, required Side) bool {
	return required == SideBoth || current == SideBoth || current == required
}
