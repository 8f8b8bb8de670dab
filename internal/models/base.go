// Package models defines the capture domain types and the GORM models of
// the recording catalog.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID identifies a recording. It is sortable by creation time, stored as
// its 26 character Crockford form and travels as text in JSON and URLs.
type ULID ulid.ULID

// NewULID returns a ULID stamped with the current time.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses the canonical text form.
func ParseULID(s string) (ULID, error) {
	var u ULID
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return ULID{}, err
	}
	if u.IsZero() {
		return ULID{}, fmt.Errorf("invalid ULID %q: empty", s)
	}
	return u, nil
}

func (u ULID) String() string { return ulid.ULID(u).String() }

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool { return u == ULID{} }

// Time returns the creation timestamp encoded in u.
func (u ULID) Time() time.Time { return ulid.Time(ulid.ULID(u).Time()) }

// MarshalText encodes u; the zero value encodes as an empty string.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return ulid.ULID(u).MarshalText()
}

// UnmarshalText decodes the canonical form. Empty input yields the zero value.
func (u *ULID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*u = ULID{}
		return nil
	}
	var id ulid.ULID
	if err := id.UnmarshalText(b); err != nil {
		return fmt.Errorf("invalid ULID %q: %w", b, err)
	}
	*u = ULID(id)
	return nil
}

// Value stores u as text; the zero value stores NULL.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan reads a text column written by Value.
func (u *ULID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		return u.UnmarshalText([]byte(v))
	case []byte:
		return u.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into ULID", src)
	}
}

func (ULID) GormDataType() string { return "varchar(26)" }

// Model carries the columns shared by catalog tables. Rows are soft deleted.
type Model struct {
	ID        ULID           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns an ID unless the caller chose one.
func (m *Model) BeforeCreate(*gorm.DB) error {
	if m.ID.IsZero() {
		m.ID = NewULID()
	}
	return nil
}
