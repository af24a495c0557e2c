package model

// TraitMin and TraitMax bound every personality trait.
const (
	TraitMin = -100
	TraitMax = 100
)

// Orientation is the enumerated attraction tendency of a character
type Orientation string

const (
	OrientationHeterosexual Orientation = "heterosexual"
	OrientationHomosexual   Orientation = "homosexual"
	OrientationBisexual     Orientation = "bisexual"
	OrientationAsexual      Orientation = "asexual"
)

// Valid reports whether o is one of the known orientations. The empty value is accepted
// and means "unspecified".
func (o Orientation) Valid() bool {
	switch o {
	case "", OrientationHeterosexual, OrientationHomosexual, OrientationBisexual, OrientationAsexual:
		return true
	}
	return false
}

// Personality holds the five bounded traits of a character
type Personality struct {
	Openness          int `json:"openness" yaml:"openness"`
	Conscientiousness int `json:"conscientiousness" yaml:"conscientiousness"`
	Extraversion      int `json:"extraversion" yaml:"extraversion"`
	Agreeableness     int `json:"agreeableness" yaml:"agreeableness"`
	Neuroticism       int `json:"neuroticism" yaml:"neuroticism"`
}

// Clamped returns a copy with every trait forced into [TraitMin, TraitMax].
func (p Personality) Clamped() Personality {
	return Personality{
		Openness:          clampTrait(p.Openness),
		Conscientiousness: clampTrait(p.Conscientiousness),
		Extraversion:      clampTrait(p.Extraversion),
		Agreeableness:     clampTrait(p.Agreeableness),
		Neuroticism:       clampTrait(p.Neuroticism),
	}
}

func clampTrait(v int) int {
	if v < TraitMin {
		return TraitMin
	}
	if v > TraitMax {
		return TraitMax
	}
	return v
}

// Preferences describes what a character likes and dislikes
type Preferences struct {
	Likes       []string    `json:"likes" yaml:"likes"`
	Dislikes    []string    `json:"dislikes" yaml:"dislikes"`
	Orientation Orientation `json:"orientation" yaml:"orientation"`
}

// Character is an AI-simulated character and the relationships it keeps with personas.
type Character struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description" yaml:"description"`
	Age           int            `json:"age" yaml:"age"`
	Gender        string         `json:"gender" yaml:"gender"`
	Background    string         `json:"background" yaml:"background"`
	AvatarURL     string         `json:"avatarUrl,omitempty" yaml:"avatar_url"`
	Personality   Personality    `json:"personality" yaml:"personality"`
	Preferences   Preferences    `json:"preferences" yaml:"preferences"`
	Relationships []Relationship `json:"relationships" yaml:"-"`
}

// Clone returns a deep copy of the character. A nil relationships slice stays nil so that
// callers can still tell a drifted record apart.
func (c Character) Clone() Character {
	out := c
	out.Preferences.Likes = cloneStrings(c.Preferences.Likes)
	out.Preferences.Dislikes = cloneStrings(c.Preferences.Dislikes)
	if c.Relationships != nil {
		out.Relationships = make([]Relationship, len(c.Relationships))
		for i, r := range c.Relationships {
			out.Relationships[i] = r.Clone()
		}
	}
	return out
}

// PersonaProfile is the nested profile info of a player persona
type PersonaProfile struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Age         int    `json:"age" yaml:"age"`
	Gender      string `json:"gender" yaml:"gender"`
	AvatarURL   string `json:"avatarUrl,omitempty" yaml:"avatar_url"`
}

// Persona is a player-controlled identity.
type Persona struct {
	ID      string          `json:"id" yaml:"id"`
	Profile *PersonaProfile `json:"profile" yaml:"profile"`
}

// DefaultPersonaProfile is the profile synthesized for a persona whose profile is missing.
func DefaultPersonaProfile(id string) *PersonaProfile {
	return &PersonaProfile{Name: id}
}

// DisplayName returns the profile name, falling back to the id.
func (p Persona) DisplayName() string {
	if p.Profile != nil && p.Profile.Name != "" {
		return p.Profile.Name
	}
	return p.ID
}

// Clone returns a deep copy of the persona.
func (p Persona) Clone() Persona {
	out := p
	if p.Profile != nil {
		profile := *p.Profile
		out.Profile = &profile
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
