package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/gezibash/arc-contacts/internal/contacts"
)

// ContactTable lists contacts one per row with their primary phone, email
// and organization.
func (o *Output) ContactTable(cs []*contacts.Contact) *Table {
	t := o.Table("contacts", "ID", "Name", "Phone", "Email", "Organization").
		MaxWidth("Name", 32).
		MaxWidth("Organization", 24)
	for _, c := range cs {
		t.AddRow(string(c.ID), c.DisplayName,
			c.First(contacts.KindPhone), c.First(contacts.KindEmail), c.First(contacts.KindOrganization))
	}
	return t
}

// ContactCards lists contacts with every field.
func (o *Output) ContactCards(cs []*contacts.Contact) *List {
	l := o.List("contacts")
	for _, c := range cs {
		l.Add(ContactCard{Contact: c})
	}
	return l
}

// ContactCard renders one contact in full.
type ContactCard struct {
	Contact *contacts.Contact
}

func (c ContactCard) Meta() Meta { return NewMeta("contact") }

func (c ContactCard) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s (%s)\n", c.Contact.DisplayName, c.Contact.ID); err != nil {
		return err
	}
	return c.eachField(func(kind contacts.Kind, f contacts.Field) error {
		_, err := fmt.Fprintf(w, "  %s: %s\n", kind, describe(f))
		return err
	})
}

func (c ContactCard) RenderJSON() any { return c.Contact }

func (c ContactCard) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s** %s\n", strings.ReplaceAll(c.Contact.DisplayName, "*", "\\*"), formatMarkdownValue(c.Contact.ID)); err != nil {
		return err
	}
	return c.eachField(func(kind contacts.Kind, f contacts.Field) error {
		_, err := fmt.Fprintf(w, "  - %s: %s\n", kind, formatMarkdownValue(describe(f)))
		return err
	})
}

func (c ContactCard) eachField(fn func(contacts.Kind, contacts.Field) error) error {
	for _, kind := range contacts.Kinds[1:] {
		for _, f := range c.Contact.Fields[kind] {
			if err := fn(kind, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func describe(f contacts.Field) string {
	if f.Label == "" {
		return f.Value
	}
	return fmt.Sprintf("%s (%s)", f.Value, f.Label)
}
