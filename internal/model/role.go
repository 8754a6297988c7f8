package model

import "fmt"

// Role is the actor that exclusively owns one workflow phase.
type Role string

const (
	RoleResearcher  Role = "pic-researcher"
	RolePlanner     Role = "pic-planner"
	RoleDesigner    Role = "pic-designer"
	RoleImplementer Role = "pic-implementer"
	RoleTester      Role = "pic-tester"
	RoleReviewer    Role = "pic-reviewer"
)

// Capability is a single permission granted to a role for its phase.
type Capability string

const (
	CapRead       Capability = "read"
	CapWriteDocs  Capability = "write_docs"
	CapWrite      Capability = "write"
	CapWriteTests Capability = "write_tests"
	CapExecute    Capability = "execute"
	CapAssess     Capability = "assess"
)

// phaseActors maps each phase to its owning role. Lookups are by exact
// phase name, never by role name prefix.
var phaseActors = map[PhaseName]Role{
	PhaseResearch:       RoleResearcher,
	PhasePlanning:       RolePlanner,
	PhaseDesign:         RoleDesigner,
	PhaseImplementation: RoleImplementer,
	PhaseTesting:        RoleTester,
	PhaseReview:         RoleReviewer,
}

var roleCapabilities = map[Role][]Capability{
	RoleResearcher:  {CapRead},
	RolePlanner:     {CapRead, CapWriteDocs},
	RoleDesigner:    {CapRead, CapWriteDocs},
	RoleImplementer: {CapRead, CapWrite, CapExecute},
	RoleTester:      {CapRead, CapWriteTests, CapExecute},
	RoleReviewer:    {CapRead, CapAssess},
}

// ActorForPhase returns the role owning the given phase.
func ActorForPhase(p PhaseName) (Role, error) {
	r, ok := phaseActors[p]
	if !ok {
		return "", fmt.Errorf("no actor configured for phase %q", p)
	}
	return r, nil
}

// CapabilitiesFor returns the fixed capability set for a role.
func CapabilitiesFor(r Role) []Capability {
	caps := roleCapabilities[r]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// HasCapability reports whether the role's fixed set includes cap.
func HasCapability(r Role, cap Capability) bool {
	for _, c := range roleCapabilities[r] {
		if c == cap {
			return true
		}
	}
	return false
}

func ValidRole(r Role) bool {
	_, ok := roleCapabilities[r]
	return ok
}

// ViolationSeverity classifies a capability violation.
type ViolationSeverity string

const (
	SeverityMinor    ViolationSeverity = "minor"
	SeverityMajor    ViolationSeverity = "major"
	SeverityCritical ViolationSeverity = "critical"
)
