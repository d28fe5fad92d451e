package policeapi

import (
	"bytes"
	"strconv"

	json "github.com/goccy/go-json"
)

// Scalar holds one JSON leaf value whose presence and type upstream does not
// guarantee. Absent keys and explicit nulls both leave it unset. Strings,
// booleans and numbers are kept with their JSON type; integral numbers become
// int64, others float64. Objects and arrays in a leaf position are ignored.
type Scalar struct {
	v any
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case string, bool:
		s.v = x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			s.v = i
		} else if f, err := x.Float64(); err == nil {
			s.v = f
		} else {
			s.v = x.String()
		}
	default:
		s.v = nil
	}
	return nil
}

// S builds a set Scalar. It is mainly useful in tests and fixtures.
func S(v any) Scalar {
	switch x := v.(type) {
	case int:
		return Scalar{v: int64(x)}
	case nil:
		return Scalar{}
	default:
		return Scalar{v: x}
	}
}

// IsSet reports whether the value was present and non-null.
func (s Scalar) IsSet() bool { return s.v != nil }

// Value returns the decoded value or nil.
func (s Scalar) Value() any { return s.v }

// String returns the value as text, or "" when unset.
func (s Scalar) String() string {
	switch x := s.v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// Street is the anonymised street a record is snapped to.
type Street struct {
	ID   Scalar `json:"id"`
	Name Scalar `json:"name"`
}

// Location is an approximate record location.
type Location struct {
	Latitude  Scalar  `json:"latitude"`
	Longitude Scalar  `json:"longitude"`
	Street    *Street `json:"street"`
}

// OutcomeStatus is the latest outcome attached to a street-level crime.
type OutcomeStatus struct {
	Category Scalar `json:"category"`
	Date     Scalar `json:"date"`
}

// Crime is one street-level crime, also embedded in outcomes.
type Crime struct {
	Category        Scalar         `json:"category"`
	ID              Scalar         `json:"id"`
	PersistentID    Scalar         `json:"persistent_id"`
	Context         Scalar         `json:"context"`
	Month           Scalar         `json:"month"`
	LocationType    Scalar         `json:"location_type"`
	LocationSubtype Scalar         `json:"location_subtype"`
	Location        *Location      `json:"location"`
	OutcomeStatus   *OutcomeStatus `json:"outcome_status"`
}

// OutcomeCategory classifies a case outcome.
type OutcomeCategory struct {
	Code Scalar `json:"code"`
	Name Scalar `json:"name"`
}

// Outcome is one case outcome at a location.
type Outcome struct {
	Category *OutcomeCategory `json:"category"`
	Date     Scalar           `json:"date"`
	PersonID Scalar           `json:"person_id"`
	Crime    *Crime           `json:"crime"`
}

// OutcomeObject is the outcome of a stop and search.
type OutcomeObject struct {
	ID   Scalar `json:"id"`
	Name Scalar `json:"name"`
}

// Stop is one stop-and-search event. The free-form "outcome" field is not
// decoded; its type varies between false and a string.
type Stop struct {
	Type                           Scalar         `json:"type"`
	InvolvedPerson                 Scalar         `json:"involved_person"`
	Datetime                       Scalar         `json:"datetime"`
	Operation                      Scalar         `json:"operation"`
	OperationName                  Scalar         `json:"operation_name"`
	Location                       *Location      `json:"location"`
	Gender                         Scalar         `json:"gender"`
	AgeRange                       Scalar         `json:"age_range"`
	SelfDefinedEthnicity           Scalar         `json:"self_defined_ethnicity"`
	OfficerDefinedEthnicity        Scalar         `json:"officer_defined_ethnicity"`
	Legislation                    Scalar         `json:"legislation"`
	ObjectOfSearch                 Scalar         `json:"object_of_search"`
	OutcomeObject                  *OutcomeObject `json:"outcome_object"`
	OutcomeLinkedToObjectOfSearch  Scalar         `json:"outcome_linked_to_object_of_search"`
	RemovalOfMoreThanOuterClothing Scalar         `json:"removal_of_more_than_outer_clothing"`
}

// EngagementMethod is one way of contacting a force or neighbourhood team.
type EngagementMethod struct {
	URL         Scalar `json:"url"`
	Title       Scalar `json:"title"`
	Description Scalar `json:"description"`
}

// Contacts are shared by forces and neighbourhoods.
type Contacts struct {
	EngagementMethods []EngagementMethod `json:"engagement_methods"`
	ContactDetails    map[string]Scalar  `json:"contact_details"`
}

// Force is the detail of one police force.
type Force struct {
	ID          Scalar `json:"id"`
	Name        Scalar `json:"name"`
	Description Scalar `json:"description"`
	URL         Scalar `json:"url"`
	Telephone   Scalar `json:"telephone"`
	Contacts
}

// NeighbourhoodRef is an entry of a force's neighbourhood list.
type NeighbourhoodRef struct {
	ID   Scalar `json:"id"`
	Name Scalar `json:"name"`
}

// Centre is a neighbourhood's centre point.
type Centre struct {
	Latitude  Scalar `json:"latitude"`
	Longitude Scalar `json:"longitude"`
}

// Neighbourhood is the detail of one neighbourhood.
type Neighbourhood struct {
	ID          Scalar  `json:"id"`
	Name        Scalar  `json:"name"`
	Description Scalar  `json:"description"`
	Population  Scalar  `json:"population"`
	URLForce    Scalar  `json:"url_force"`
	Centre      *Centre `json:"centre"`
	Contacts
}

// LatLng is one vertex of a neighbourhood boundary.
type LatLng struct {
	Latitude  Scalar `json:"latitude"`
	Longitude Scalar `json:"longitude"`
}

// CrimeCategory is one entry of the crime category list.
type CrimeCategory struct {
	URL  Scalar `json:"url"`
	Name Scalar `json:"name"`
}

// LastUpdated is the upstream data freshness marker.
type LastUpdated struct {
	Date Scalar `json:"date"`
}

// Located is the force and neighbourhood covering a point.
type Located struct {
	Force         Scalar `json:"force"`
	Neighbourhood Scalar `json:"neighbourhood"`
}
