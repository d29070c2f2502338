package r3

import (
	"fmt"
	"strings"
)

// Resource is a class of guarded operations
type Resource string

const (
	ResFile   Resource = "file"
	ResNet    Resource = "net"
	ResCall   Resource = "call"
	ResMemory Resource = "memory"
	ResEval   Resource = "eval"
)

var allResources = []Resource{ResFile, ResNet, ResCall, ResMemory, ResEval}

// SecurityLevel is the enforcement applied when a resource is used
type SecurityLevel int

const (
	SecAllow SecurityLevel = iota // Proceed
	SecThrow                      // Raise a catchable security error
	SecQuit                       // Terminate the process
)

// String returns the policy word for the level
func (l SecurityLevel) String() string {
	switch l {
	case SecAllow:
		return "allow"
	case SecThrow:
		return "throw"
	case SecQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// ParseSecurityLevel converts "allow", "throw" or "quit"
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return SecAllow, nil
	case "throw", "ask":
		return SecThrow, nil
	case "quit":
		return SecQuit, nil
	}
	return SecAllow, fmt.Errorf("unknown security level %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (l SecurityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for config files
func (l *SecurityLevel) UnmarshalText(text []byte) error {
	level, err := ParseSecurityLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// SecurityPolicy assigns a level to each resource class. The memory and
// eval classes are only consulted once their ceilings are crossed.
type SecurityPolicy struct {
	Levels        map[Resource]SecurityLevel `toml:"levels" yaml:"levels"`
	MemoryCeiling int64                      `toml:"memory_ceiling" yaml:"memory_ceiling"` // Bytes, 0 for none
	EvalLimit     int64                      `toml:"eval_limit" yaml:"eval_limit"`         // Evaluation steps, 0 for none
}

// DefaultSecurityPolicy allows everything
func DefaultSecurityPolicy() SecurityPolicy {
	levels := make(map[Resource]SecurityLevel, len(allResources))
	for _, r := range allResources {
		levels[r] = SecAllow
	}
	return SecurityPolicy{Levels: levels}
}

// Level returns the level for res, allow when unset
func (p SecurityPolicy) Level(res Resource) SecurityLevel {
	if p.Levels == nil {
		return SecAllow
	}
	return p.Levels[res]
}

// checkSecurity applies the policy for res. With the throw level a security
// error is returned; with the quit level out receives a thrown quit and
// thrown is true so the caller propagates it to process termination.
func (rt *Runtime) checkSecurity(out *Cell, res Resource, detail string) (thrown bool, err error) {
	level := rt.config.Security.Level(res)
	switch level {
	case SecAllow:
		return false, nil
	case SecThrow:
		rt.logger.DebugCat(CatSecurity, "denied %s: %s", res, detail)
		return false, rt.Errorf(ErrSecurity, rt.wordCell(string(res)), rt.stringCell(detail))
	default:
		rt.logger.WarnCat(CatSecurity, "policy quit on %s: %s", res, detail)
		*out = Integer(int64(codeOf(ErrSecurity)))
		rt.throwOut(out, Word(KindWord, SymQuit))
		return true, nil
	}
}
