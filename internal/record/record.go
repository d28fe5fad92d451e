// Package record flattens upstream record trees into the positional field
// lists the storage functions take. Every nested object and leaf may be
// missing; missing values map to nil.
package record

import (
	"regexp"
	"slices"
	"strings"

	"github.com/sells-group/police-sync/internal/policeapi"
)

const (
	// OrganisationType is the organisation type of a police force.
	OrganisationType = "police-force"
	// PlaceType is the place type of a neighbourhood.
	PlaceType = "police-neighbourhood"
	// CategoryType is the category type of a crime category.
	CategoryType = "police-crime"
	// CategoryReference documents what the crime categories mean.
	CategoryReference = "https://www.police.uk/about-this-site/faqs/#what-do-the-crime-categories-mean"
)

// Extension is one named value attached to an organisation or place.
type Extension struct {
	Key   string
	Value any
}

// Contact is one (label, value) pair of contact information.
type Contact struct {
	Label string
	Value any
}

// leaf reads a scalar from a node that may be nil.
func leaf[N any](n *N, get func(*N) policeapi.Scalar) any {
	if n == nil {
		return nil
	}
	return get(n).Value()
}

// child steps into a nested node that may be nil.
func child[N, C any](n *N, get func(*N) *C) *C {
	if n == nil {
		return nil
	}
	return get(n)
}

func street(l *policeapi.Location) *policeapi.Street {
	return child(l, func(l *policeapi.Location) *policeapi.Street { return l.Street })
}

// locationFields is street.id, street.name, latitude, longitude.
func locationFields(l *policeapi.Location) []any {
	s := street(l)
	return []any{
		leaf(s, func(s *policeapi.Street) policeapi.Scalar { return s.ID }),
		leaf(s, func(s *policeapi.Street) policeapi.Scalar { return s.Name }),
		leaf(l, func(l *policeapi.Location) policeapi.Scalar { return l.Latitude }),
		leaf(l, func(l *policeapi.Location) policeapi.Scalar { return l.Longitude }),
	}
}

// crimeCore is the seven top-level crime fields followed by its location.
func crimeCore(c *policeapi.Crime) []any {
	fields := []any{
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.Category }),
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.ID }),
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.PersistentID }),
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.Context }),
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.Month }),
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.LocationType }),
		leaf(c, func(c *policeapi.Crime) policeapi.Scalar { return c.LocationSubtype }),
	}
	loc := child(c, func(c *policeapi.Crime) *policeapi.Location { return c.Location })
	return append(fields, locationFields(loc)...)
}

// CrimeFields returns the 13 fields of post_police_crime.
func CrimeFields(c *policeapi.Crime) []any {
	status := child(c, func(c *policeapi.Crime) *policeapi.OutcomeStatus { return c.OutcomeStatus })
	return append(crimeCore(c),
		leaf(status, func(s *policeapi.OutcomeStatus) policeapi.Scalar { return s.Category }),
		leaf(status, func(s *policeapi.OutcomeStatus) policeapi.Scalar { return s.Date }),
	)
}

// OutcomeFields returns the 15 fields of post_police_outcome.
func OutcomeFields(o *policeapi.Outcome) []any {
	cat := child(o, func(o *policeapi.Outcome) *policeapi.OutcomeCategory { return o.Category })
	crime := child(o, func(o *policeapi.Outcome) *policeapi.Crime { return o.Crime })
	fields := []any{
		leaf(cat, func(c *policeapi.OutcomeCategory) policeapi.Scalar { return c.Code }),
		leaf(cat, func(c *policeapi.OutcomeCategory) policeapi.Scalar { return c.Name }),
		leaf(o, func(o *policeapi.Outcome) policeapi.Scalar { return o.Date }),
		leaf(o, func(o *policeapi.Outcome) policeapi.Scalar { return o.PersonID }),
	}
	return append(fields, crimeCore(crime)...)
}

// StopFields returns the 18 fields of post_police_stop.
func StopFields(s *policeapi.Stop) []any {
	obj := child(s, func(s *policeapi.Stop) *policeapi.OutcomeObject { return s.OutcomeObject })
	loc := child(s, func(s *policeapi.Stop) *policeapi.Location { return s.Location })
	fields := []any{
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.Datetime }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.OutcomeLinkedToObjectOfSearch }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.Type }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.Operation }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.ObjectOfSearch }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.OperationName }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.RemovalOfMoreThanOuterClothing }),
		leaf(obj, func(o *policeapi.OutcomeObject) policeapi.Scalar { return o.Name }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.Legislation }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.InvolvedPerson }),
	}
	fields = append(fields, locationFields(loc)...)
	return append(fields,
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.Gender }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.SelfDefinedEthnicity }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.OfficerDefinedEthnicity }),
		leaf(s, func(s *policeapi.Stop) policeapi.Scalar { return s.AgeRange }),
	)
}

// OrganisationFields returns the 4 fields of post_organisation.
func OrganisationFields(f *policeapi.Force) []any {
	return []any{
		OrganisationType,
		leaf(f, func(f *policeapi.Force) policeapi.Scalar { return f.ID }),
		leaf(f, func(f *policeapi.Force) policeapi.Scalar { return f.Name }),
		leaf(f, func(f *policeapi.Force) policeapi.Scalar { return f.Description }),
	}
}

// OrganisationExtensions returns the url and telephone extensions of a force.
func OrganisationExtensions(f *policeapi.Force) []Extension {
	return []Extension{
		{Key: "url", Value: leaf(f, func(f *policeapi.Force) policeapi.Scalar { return f.URL })},
		{Key: "telephone", Value: leaf(f, func(f *policeapi.Force) policeapi.Scalar { return f.Telephone })},
	}
}

// PlaceFields returns the 9 fields of post_place. identifier is the id from
// the force's neighbourhood list, which also keys the existence check and the
// boundary update. The address, postcode and parent slots are always empty
// for neighbourhoods.
func PlaceFields(identifier string, n *policeapi.Neighbourhood) []any {
	centre := child(n, func(n *policeapi.Neighbourhood) *policeapi.Centre { return n.Centre })
	return []any{
		PlaceType,
		identifier,
		leaf(n, func(n *policeapi.Neighbourhood) policeapi.Scalar { return n.Name }),
		leaf(n, func(n *policeapi.Neighbourhood) policeapi.Scalar { return n.Description }),
		nil,
		nil,
		leaf(centre, func(c *policeapi.Centre) policeapi.Scalar { return c.Longitude }),
		leaf(centre, func(c *policeapi.Centre) policeapi.Scalar { return c.Latitude }),
		nil,
	}
}

// PlaceExtensions returns the population extension of a neighbourhood.
func PlaceExtensions(n *policeapi.Neighbourhood) []Extension {
	return []Extension{
		{Key: "population", Value: leaf(n, func(n *policeapi.Neighbourhood) policeapi.Scalar { return n.Population })},
	}
}

// Contacts flattens engagement methods to (title, url) followed by contact
// details as (key, value) in key order.
func Contacts(c *policeapi.Contacts) []Contact {
	if c == nil {
		return nil
	}
	out := make([]Contact, 0, len(c.EngagementMethods)+len(c.ContactDetails))
	for _, m := range c.EngagementMethods {
		out = append(out, Contact{Label: m.Title.String(), Value: m.URL.Value()})
	}
	keys := make([]string, 0, len(c.ContactDetails))
	for k := range c.ContactDetails {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, Contact{Label: k, Value: c.ContactDetails[k].Value()})
	}
	return out
}

var slugSeparators = regexp.MustCompile(`[ -]+`)

// CategorySlug derives a category identifier from its upstream url field.
func CategorySlug(url string) string {
	return slugSeparators.ReplaceAllString(strings.TrimSpace(url), "-")
}

// CategoryFields returns the 4 fields of post_category. ok is false when the
// category has no usable identifier.
func CategoryFields(c *policeapi.CrimeCategory) (fields []any, ok bool) {
	if c == nil {
		return nil, false
	}
	slug := CategorySlug(c.URL.String())
	if slug == "" {
		return nil, false
	}
	return []any{CategoryType, slug, c.Name.Value(), CategoryReference}, true
}
