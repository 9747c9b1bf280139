// Package stix holds the value catalog for STIX domain objects the platform
// shares. Schema validation proper is delegated to external STIX tooling;
// the engine only needs the known type set and TLP ordering.
package stix

// Object is a raw STIX object as exchanged over TAXII: a decoded JSON
// document. Anonymization strategies transform it before it leaves the
// trust boundary.
type Object = map[string]any

// ObjectType identifies a STIX domain object kind.
type ObjectType string

const (
	TypeAttackPattern  ObjectType = "attack-pattern"
	TypeCampaign       ObjectType = "campaign"
	TypeCourseOfAction ObjectType = "course-of-action"
	TypeIdentity       ObjectType = "identity"
	TypeIndicator      ObjectType = "indicator"
	TypeIntrusionSet   ObjectType = "intrusion-set"
	TypeMalware        ObjectType = "malware"
	TypeObservedData   ObjectType = "observed-data"
	TypeReport         ObjectType = "report"
	TypeThreatActor    ObjectType = "threat-actor"
	TypeTool           ObjectType = "tool"
	TypeVulnerability  ObjectType = "vulnerability"
	TypeRelationship   ObjectType = "relationship"
	TypeSighting       ObjectType = "sighting"
)

// AllObjectTypes lists every type the platform recognizes, for validation.
var AllObjectTypes = []ObjectType{
	TypeAttackPattern, TypeCampaign, TypeCourseOfAction, TypeIdentity,
	TypeIndicator, TypeIntrusionSet, TypeMalware, TypeObservedData,
	TypeReport, TypeThreatActor, TypeTool, TypeVulnerability,
	TypeRelationship, TypeSighting,
}

// IsKnownType reports whether t names a recognized STIX object type.
func IsKnownType(t string) bool {
	for _, known := range AllObjectTypes {
		if string(known) == t {
			return true
		}
	}
	return false
}

// TLPLevel is a Traffic Light Protocol marking, ordered from least to most
// restrictive.
type TLPLevel string

const (
	TLPWhite TLPLevel = "white"
	TLPGreen TLPLevel = "green"
	TLPAmber TLPLevel = "amber"
	TLPRed   TLPLevel = "red"
)

var tlpRank = map[TLPLevel]int{
	TLPWhite: 0,
	TLPGreen: 1,
	TLPAmber: 2,
	TLPRed:   3,
}

// IsValid reports whether the TLP marking is one of the four levels.
func (l TLPLevel) IsValid() bool {
	_, ok := tlpRank[l]
	return ok
}

// AtMost reports whether l is no more restrictive than max.
func (l TLPLevel) AtMost(max TLPLevel) bool {
	lr, ok1 := tlpRank[l]
	mr, ok2 := tlpRank[max]
	return ok1 && ok2 && lr <= mr
}
