// Package profile holds the canonical data model: the profile record, the
// layout configuration, and the snapshot that is persisted after every
// mutation.
package profile

import (
	"encoding/json"
	"fmt"
	"io"

	"certhub/constants"
)

// Profile is the durable record tracked through the pipeline.
type Profile struct {
	ID          string                  `json:"id"`
	NameCN      string                  `json:"name_cn,omitempty"`
	NamePinyin  string                  `json:"name_pinyin,omitempty"`
	Birthday    *Date                   `json:"birthday,omitempty"`
	BaptismDate *Date                   `json:"baptism_date,omitempty"`
	Status      constants.ProfileStatus `json:"status"`
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Birthday != nil {
		b := *p.Birthday
		cp.Birthday = &b
	}
	if p.BaptismDate != nil {
		b := *p.BaptismDate
		cp.BaptismDate = &b
	}
	return &cp
}

// Layout field names understood by the certificate renderer.
const (
	FieldHeadshot     = "headshot"
	FieldName         = "name"
	FieldBirthday     = "birthday"
	FieldBaptismDay   = "baptism_day"
	FieldBaptismMonth = "baptism_month"
	FieldBaptismYear  = "baptism_year"
	FieldSignDate     = "sign_date"
)

// SignDateKey is the configuration key that, when set to a YYYY-MM-DD value,
// overrides the sign-off date printed on generated certificates.
const SignDateKey = "sign_date_value"

// defaultLayouts positions each certificate field on the template, in inches.
var defaultLayouts = map[string]string{
	FieldHeadshot:     "left=7.1 top=1.55 w=2.2",
	FieldName:         "left=1.1 top=3.05 w=6.0 h=0.8 fontsz=28",
	FieldBirthday:     "left=1.1 top=4.1 w=4.5 h=0.6 fontsz=18",
	FieldBaptismDay:   "left=2.35 top=5.0 w=1.0 h=0.5 fontsz=16",
	FieldBaptismMonth: "left=3.85 top=5.0 w=1.5 h=0.5 fontsz=16",
	FieldBaptismYear:  "left=5.55 top=5.0 w=1.2 h=0.5 fontsz=16",
	FieldSignDate:     "left=6.2 top=6.35 w=2.4 h=0.5 fontsz=14",
}

// Config is the mutable system configuration carried in the snapshot.
type Config struct {
	// InferenceURL overrides the default extraction endpoint when set.
	InferenceURL string `json:"inference_url,omitempty"`
	// CertificateConfig maps field name -> layout spec string. Unset
	// fields fall back to built-in defaults.
	CertificateConfig map[string]string `json:"certificate_config,omitempty"`
}

// LayoutSpec returns the layout string for field, falling back to the
// built-in default.
func (c Config) LayoutSpec(field string) string {
	if spec, ok := c.CertificateConfig[field]; ok && spec != "" {
		return spec
	}
	return defaultLayouts[field]
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	cp := c
	if c.CertificateConfig != nil {
		cp.CertificateConfig = make(map[string]string, len(c.CertificateConfig))
		for k, v := range c.CertificateConfig {
			cp.CertificateConfig[k] = v
		}
	}
	return cp
}

// Snapshot is the full persisted state: the ordered profile collection plus
// configuration.
type Snapshot struct {
	Profiles []*Profile `json:"profiles"`
	Config   Config     `json:"config"`
}

// Clone returns a deep copy safe to hand outside the state owner.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Config: s.Config.Clone()}
	out.Profiles = make([]*Profile, len(s.Profiles))
	for i, p := range s.Profiles {
		out.Profiles[i] = p.Clone()
	}
	return out
}

// Find returns the profile with the given id, or nil.
func (s Snapshot) Find(id string) *Profile {
	for _, p := range s.Profiles {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// EncodeSnapshot serializes s as indented JSON.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot reads a snapshot back from r.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
