// Package contacts models directory records and assembles them from store rows.
//
// A store row carries exactly one field of one contact, so a Contact is built
// up row by row. Builder keeps the partially assembled contacts private until
// every row of a query has been consumed.
package contacts

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

// ErrNoDisplayName is returned when a contact has neither a display name nor
// identity fields to derive one from.
var ErrNoDisplayName = errors.New("contact has no display name")

// ID identifies a contact. It is assigned by the store and only stable while
// the store is not mutated externally.
type ID string

// Kind is the kind of field a row contributes.
type Kind string

const (
	KindName         Kind = "name"
	KindPhone        Kind = "phone"
	KindEmail        Kind = "email"
	KindOrganization Kind = "organization"
	KindAddress      Kind = "address"
	KindWebsite      Kind = "website"
	KindNickname     Kind = "nickname"
	KindNote         Kind = "note"
	KindBirthday     Kind = "birthday"
	KindIM           Kind = "im"
	KindRelation     Kind = "relation"
)

// Kinds lists every field kind the reader understands, name first.
var Kinds = []Kind{
	KindName, KindPhone, KindEmail, KindOrganization, KindAddress, KindWebsite,
	KindNickname, KindNote, KindBirthday, KindIM, KindRelation,
}

// Row data keys.
const (
	DataValue          = "value"
	DataLabel          = "label"
	DataGiven          = "given"
	DataMiddle         = "middle"
	DataFamily         = "family"
	DataPrefix         = "prefix"
	DataSuffix         = "suffix"
	DataPhoneticGiven  = "phonetic_given"
	DataPhoneticFamily = "phonetic_family"
)

// Identity holds the structured name of a contact.
type Identity struct {
	GivenName      string `json:"given_name,omitempty"`
	MiddleName     string `json:"middle_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	Suffix         string `json:"suffix,omitempty"`
	PhoneticGiven  string `json:"phonetic_given,omitempty"`
	PhoneticFamily string `json:"phonetic_family,omitempty"`
}

// IsZero reports whether no identity field is set.
func (i Identity) IsZero() bool { return i == Identity{} }

// FullName joins the name parts in display order.
func (i Identity) FullName() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{i.Prefix, i.GivenName, i.MiddleName, i.FamilyName, i.Suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (i Identity) data() map[string]string {
	d := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	set(DataGiven, i.GivenName)
	set(DataMiddle, i.MiddleName)
	set(DataFamily, i.FamilyName)
	set(DataPrefix, i.Prefix)
	set(DataSuffix, i.Suffix)
	set(DataPhoneticGiven, i.PhoneticGiven)
	set(DataPhoneticFamily, i.PhoneticFamily)
	return d
}

// Field is one value of a non-name kind, e.g. a phone number.
type Field struct {
	Label string            `json:"label,omitempty"`
	Value string            `json:"value"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func (f Field) equal(o Field) bool {
	return f.Label == o.Label && f.Value == o.Value && maps.Equal(f.Attrs, o.Attrs)
}

// Contact is a fully hydrated directory record.
type Contact struct {
	ID          ID               `json:"id"`
	DisplayName string           `json:"display_name"`
	Identity    Identity         `json:"identity"`
	Fields      map[Kind][]Field `json:"fields,omitempty"`
}

// New returns an empty contact with the given id.
func New(id ID) *Contact {
	return &Contact{ID: id, Fields: make(map[Kind][]Field)}
}

// Clone returns a deep copy.
func (c *Contact) Clone() *Contact {
	out := &Contact{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Identity:    c.Identity,
		Fields:      make(map[Kind][]Field, len(c.Fields)),
	}
	for k, fs := range c.Fields {
		cp := make([]Field, len(fs))
		for i, f := range fs {
			cp[i] = Field{Label: f.Label, Value: f.Value, Attrs: maps.Clone(f.Attrs)}
		}
		out.Fields[k] = cp
	}
	return out
}

// Add appends a field unless an identical one is already present.
func (c *Contact) Add(kind Kind, f Field) {
	if c.Fields == nil {
		c.Fields = make(map[Kind][]Field)
	}
	if slices.ContainsFunc(c.Fields[kind], f.equal) {
		return
	}
	c.Fields[kind] = append(c.Fields[kind], f)
}

// First returns the value of the first field of kind, or "".
func (c *Contact) First(kind Kind) string {
	if fs := c.Fields[kind]; len(fs) > 0 {
		return fs[0].Value
	}
	return ""
}

// Normalize fills DisplayName from the identity when it is empty.
func (c *Contact) Normalize() error {
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	if c.DisplayName == "" {
		c.DisplayName = c.Identity.FullName()
	}
	if c.DisplayName == "" {
		return ErrNoDisplayName
	}
	return nil
}

// Rows flattens the contact into store rows: one name row followed by one row
// per field, in Kinds order. Row ids are left for the store to assign.
func (c *Contact) Rows() []*physical.Row {
	rows := []*physical.Row{{
		ContactID:   string(c.ID),
		Kind:        string(KindName),
		DisplayName: c.DisplayName,
		Data:        c.Identity.data(),
	}}
	for _, kind := range Kinds[1:] {
		for _, f := range c.Fields[kind] {
			data := maps.Clone(f.Attrs)
			if data == nil {
				data = map[string]string{}
			}
			data[DataValue] = f.Value
			if f.Label != "" {
				data[DataLabel] = f.Label
			}
			rows = append(rows, &physical.Row{
				ContactID:   string(c.ID),
				Kind:        string(kind),
				DisplayName: c.DisplayName,
				Data:        data,
			})
		}
	}
	return rows
}
