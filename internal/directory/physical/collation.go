package physical

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/gezibash/arc-contacts/internal/storage"
)

// KeyLocale is the backend config key selecting the display-name collation.
const KeyLocale = "locale"

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "en"

// Collator orders display names the way the directory presents them.
// It is safe for concurrent use.
type Collator struct {
	mu     sync.Mutex
	c      *collate.Collator
	buf    collate.Buffer
	locale string
}

// NewCollator returns a collator for a BCP 47 locale such as "en" or "de-CH".
func NewCollator(locale string) (*Collator, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	return &Collator{c: collate.New(tag), locale: tag.String()}, nil
}

// CollatorFor reads the locale setting of a backend's configuration.
func CollatorFor(s storage.Settings) (*Collator, error) {
	c, err := NewCollator(s.String(KeyLocale, DefaultLocale))
	if err != nil {
		return nil, s.Error(KeyLocale, "invalid locale", err)
	}
	return c, nil
}

// Locale returns the canonical locale tag.
func (c *Collator) Locale() string { return c.locale }

// Compare orders two display names.
func (c *Collator) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.CompareString(a, b)
}

// Key returns the collation key of a display name. Keys compare bytewise in
// the same order Compare reports.
func (c *Collator) Key(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.c.KeyFromString(&c.buf, name)
	out := bytes.Clone(k)
	c.buf.Reset()
	return out
}

// SortKey returns the byte string that places a row in query order:
// display name, then contact id, then row id.
func (c *Collator) SortKey(row *Row) []byte {
	name := c.Key(row.DisplayName)
	out := make([]byte, 0, len(name)*2+len(row.ContactID)+12)
	out = appendEscaped(out, name)
	out = appendEscaped(out, []byte(row.ContactID))
	return binary.BigEndian.AppendUint64(out, uint64(row.RowID))
}

// RowIDFromSortKey extracts the row id appended by SortKey.
func RowIDFromSortKey(key []byte) (int64, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("sort key too short: %d bytes", len(key))
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:])), nil
}

// appendEscaped writes b so that bytewise order of the concatenation matches
// the order of its parts: 0x00 becomes 0x00 0xFF and the part ends with 0x00 0x01.
func appendEscaped(dst, b []byte) []byte {
	for _, x := range b {
		if x == 0x00 {
			dst = append(dst, 0x00, 0xFF)
			continue
		}
		dst = append(dst, x)
	}
	return append(dst, 0x00, 0x01)
}
