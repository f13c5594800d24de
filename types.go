package hal

import (
	"fmt"
	"strings"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

// String returns a string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelNone:
		return "NONE"
	case LogLevelError:
		return "ERROR"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel is the inverse of LogLevel.String, case insensitive.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return LogLevelNone, nil
	case "ERROR":
		return LogLevelError, nil
	case "WARNING", "WARN":
		return LogLevelWarning, nil
	case "INFO":
		return LogLevelInfo, nil
	case "DEBUG":
		return LogLevelDebug, nil
	}
	return LogLevelNone, fmt.Errorf("unknown log level %q", s)
}

// LogCallback is a function type for logging messages
type LogCallback func(level LogLevel, message string)

// Grant is one independent access grant on the secure element.
type Grant uint32

// Grant values double as the status bits reported by PowerStatus.
const (
	GrantWired        Grant = 0x0200
	GrantSPI          Grant = 0x0400
	GrantDownload     Grant = 0x0800
	GrantSPIPriority  Grant = 0x1000
	GrantJCOPDownload Grant = 0x8000
)

// Raw status values that are not grants.
const (
	StatusInvalid uint32 = 0x0000
	StatusIdle    uint32 = 0x0100
)

var grantNames = []struct {
	g    Grant
	name string
}{
	{GrantWired, "WIRED"},
	{GrantSPI, "SPI"},
	{GrantDownload, "DWNLD"},
	{GrantSPIPriority, "SPI_PRIO"},
	{GrantJCOPDownload, "JCP_DWNLD"},
}

const allGrants = GrantWired | GrantSPI | GrantDownload | GrantSPIPriority | GrantJCOPDownload

// AccessState is either Idle or a non-empty set of grants. The zero value
// is Idle.
type AccessState struct {
	grants Grant
}

// Idle is the state with no grants held.
var Idle = AccessState{}

// IsIdle reports whether no grant is held.
func (s AccessState) IsIdle() bool {
	return s.grants == 0
}

// Has reports whether any of the grants in g is held.
func (s AccessState) Has(g Grant) bool {
	return s.grants&g != 0
}

// With returns the state with g added.
func (s AccessState) With(g Grant) AccessState {
	return AccessState{grants: s.grants | (g & allGrants)}
}

// Without returns the state with g removed. Removing the last grant yields
// Idle.
func (s AccessState) Without(g Grant) AccessState {
	return AccessState{grants: s.grants &^ g}
}

// Grants returns the set of grants held.
func (s AccessState) Grants() Grant {
	return s.grants
}

// Bits returns the status word: StatusIdle when idle, otherwise the union of
// the held grant bits.
func (s AccessState) Bits() uint32 {
	if s.IsIdle() {
		return StatusIdle
	}
	return uint32(s.grants)
}

func (s AccessState) String() string {
	if s.IsIdle() {
		return "IDLE"
	}
	var parts []string
	for _, n := range grantNames {
		if s.grants&n.g != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// StateFromBits decodes a status word. StatusInvalid and words with unknown
// bits are rejected.
func StateFromBits(bits uint32) (AccessState, error) {
	if bits == StatusIdle {
		return Idle, nil
	}
	if bits == StatusInvalid || bits&^uint32(allGrants) != 0 {
		return Idle, fmt.Errorf("invalid access state 0x%04x", bits)
	}
	return AccessState{grants: Grant(bits)}, nil
}

// Event is the payload delivered to the registered client.
type Event uint32

const (
	EventSvddSyncStart    Event = 0x0001
	EventSvddSyncEnd      Event = 0x0002
	EventDwpSvddSyncStart Event = 0x0004
	EventDwpSvddSyncEnd   Event = 0x0008
	EventSPI              Event = 0x0400
	EventSPIPriority      Event = 0x1000
	EventSPIPriorityEnd   Event = 0x2000
	EventSPIEnd           Event = 0x4000

	EventJCOPDownloadInit     Event = 0x8010
	EventJCOPDownloadComplete Event = 0x8080
)

func (e Event) String() string {
	switch e {
	case EventJCOPDownloadInit:
		return "JCP_DWNLD_INIT"
	case EventJCOPDownloadComplete:
		return "JCP_DWP_DWNLD_COMPLETE"
	}
	names := []struct {
		e    Event
		name string
	}{
		{EventSvddSyncStart, "SPI_SVDD_SYNC_START"},
		{EventSvddSyncEnd, "SPI_SVDD_SYNC_END"},
		{EventDwpSvddSyncStart, "DWP_SVDD_SYNC_START"},
		{EventDwpSvddSyncEnd, "DWP_SVDD_SYNC_END"},
		{EventSPI, "SPI"},
		{EventSPIPriority, "SPI_PRIO"},
		{EventSPIPriorityEnd, "SPI_PRIO_END"},
		{EventSPIEnd, "SPI_END"},
	}
	var parts []string
	rest := e
	for _, n := range names {
		if e&n.e != 0 {
			parts = append(parts, n.name)
			rest &^= n.e
		}
	}
	if rest != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("0x%04x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
