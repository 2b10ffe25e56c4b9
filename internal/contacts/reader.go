package contacts

import (
	"maps"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

// Reader turns store rows into contacts.
type Reader interface {
	// ExtractID reads only the contact id of a row.
	ExtractID(row *physical.Row) ID
	// Hydrate merges the field carried by row into c, creating the contact
	// when c is nil, and returns it.
	Hydrate(row *physical.Row, c *Contact) *Contact
}

type fieldFunc func(row *physical.Row, c *Contact)

// FieldReader is the default Reader. Every row refreshes the display name;
// the row kind selects which field it fills. Rows of unknown kinds only
// contribute the display name.
type FieldReader struct {
	fields map[Kind]fieldFunc
}

// NewFieldReader returns a reader for all Kinds.
func NewFieldReader() *FieldReader {
	r := &FieldReader{fields: make(map[Kind]fieldFunc, len(Kinds))}
	r.fields[KindName] = readIdentity
	for _, k := range Kinds[1:] {
		r.fields[k] = readField(k)
	}
	return r
}

func (r *FieldReader) ExtractID(row *physical.Row) ID {
	return ID(row.ContactID)
}

func (r *FieldReader) Hydrate(row *physical.Row, c *Contact) *Contact {
	if c == nil {
		c = New(r.ExtractID(row))
	}
	if row.DisplayName != "" {
		c.DisplayName = row.DisplayName
	}
	if fn, ok := r.fields[Kind(row.Kind)]; ok {
		fn(row, c)
	}
	return c
}

func readIdentity(row *physical.Row, c *Contact) {
	d := row.Data
	c.Identity = Identity{
		GivenName:      d[DataGiven],
		MiddleName:     d[DataMiddle],
		FamilyName:     d[DataFamily],
		Prefix:         d[DataPrefix],
		Suffix:         d[DataSuffix],
		PhoneticGiven:  d[DataPhoneticGiven],
		PhoneticFamily: d[DataPhoneticFamily],
	}
}

func readField(kind Kind) fieldFunc {
	return func(row *physical.Row, c *Contact) {
		value := row.Data[DataValue]
		if value == "" {
			return
		}
		attrs := maps.Clone(row.Data)
		delete(attrs, DataValue)
		delete(attrs, DataLabel)
		if len(attrs) == 0 {
			attrs = nil
		}
		c.Add(kind, Field{Label: row.Data[DataLabel], Value: value, Attrs: attrs})
	}
}
