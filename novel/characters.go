package novel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNoCharacters is returned when a payload holds no usable character.
var ErrNoCharacters = errors.New("no characters in payload")

// Character is one character profile. Profile fields are free text.
type Character struct {
	Name          string `json:"name"`
	Role          string `json:"role,omitempty"`
	Age           string `json:"age,omitempty"`
	Appearance    string `json:"physical_appearance,omitempty"`
	Personality   string `json:"personality,omitempty"`
	Background    string `json:"background,omitempty"`
	Motivations   string `json:"motivations,omitempty"`
	Fears         string `json:"fears,omitempty"`
	Desires       string `json:"desires,omitempty"`
	Relationships string `json:"relationships,omitempty"`
	Description   string `json:"description,omitempty"`

	// Arc tracking.
	EmotionalState string `json:"emotional_state,omitempty"`
	GoalProgress   string `json:"goal_progress,omitempty"`
	Knowledge      string `json:"knowledge,omitempty"`
	Growth         string `json:"growth,omitempty"`

	// UpdateStatus is set when the profile is a fallback or was not updated.
	UpdateStatus string `json:"update_status,omitempty"`

	// Extra holds unrecognized keys. It is never marshaled.
	Extra map[string]json.RawMessage `json:"-"`
}

// field setters keyed by normalized JSON key.
var characterFields = map[string]func(c *Character, v string){
	"name":                    func(c *Character, v string) { c.Name = v },
	"full_name":               func(c *Character, v string) { c.Name = v },
	"role":                    func(c *Character, v string) { c.Role = v },
	"age":                     func(c *Character, v string) { c.Age = v },
	"physical_appearance":     func(c *Character, v string) { c.Appearance = v },
	"appearance":              func(c *Character, v string) { c.Appearance = v },
	"physical_description":    func(c *Character, v string) { c.Appearance = v },
	"personality":             func(c *Character, v string) { c.Personality = v },
	"personality_traits":      func(c *Character, v string) { c.Personality = v },
	"traits":                  func(c *Character, v string) { c.Personality = v },
	"background":              func(c *Character, v string) { c.Background = v },
	"backstory":               func(c *Character, v string) { c.Background = v },
	"motivations":             func(c *Character, v string) { c.Motivations = v },
	"motivation":              func(c *Character, v string) { c.Motivations = v },
	"goals":                   func(c *Character, v string) { c.Motivations = v },
	"fears":                   func(c *Character, v string) { c.Fears = v },
	"desires":                 func(c *Character, v string) { c.Desires = v },
	"relationships":           func(c *Character, v string) { c.Relationships = v },
	"description":             func(c *Character, v string) { c.Description = v },
	"summary":                 func(c *Character, v string) { c.Description = v },
	"emotional_state":         func(c *Character, v string) { c.EmotionalState = v },
	"current_emotional_state": func(c *Character, v string) { c.EmotionalState = v },
	"mindset":                 func(c *Character, v string) { c.EmotionalState = v },
	"goal_progress":           func(c *Character, v string) { c.GoalProgress = v },
	"progress_toward_goals":   func(c *Character, v string) { c.GoalProgress = v },
	"knowledge":               func(c *Character, v string) { c.Knowledge = v },
	"knowledge_gained":        func(c *Character, v string) { c.Knowledge = v },
	"secrets":                 func(c *Character, v string) { c.Knowledge = v },
	"growth":                  func(c *Character, v string) { c.Growth = v },
	"character_growth":        func(c *Character, v string) { c.Growth = v },
	"update_status":           func(c *Character, v string) { c.UpdateStatus = v },
}

// normalizeKey lowercases and folds spaces and dashes to underscores.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

// Cast is an ordered list of characters.
type Cast []Character

// wrapperKeys are top-level keys that hold the cast itself.
var wrapperKeys = []string{"characters", "character_profiles", "profiles", "cast"}

// ParseCharacters converts provider JSON into a Cast. Accepted shapes:
//
//	{"characters": [{...}, ...]}
//	{"characters": {"Name": {...}, ...}}
//	{"Name": {...}, ...}
//	[{...}, ...]
func ParseCharacters(data []byte) (Cast, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoCharacters
	}

	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid characters JSON: %w", err)
	}

	if obj, ok := root.(map[string]interface{}); ok {
	unwrap:
		for _, wk := range wrapperKeys {
			for k, v := range obj {
				if normalizeKey(k) == wk {
					root = v
					break unwrap
				}
			}
		}
	}

	var cast Cast
	switch v := root.(type) {
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				cast = append(cast, characterFromMap("", m))
			}
		}
	case map[string]interface{}:
		// Keyed by name. Key order is not preserved by map decoding, so
		// names are re-read in document order.
		for _, name := range objectKeys(data, v) {
			switch entry := v[name].(type) {
			case map[string]interface{}:
				cast = append(cast, characterFromMap(name, entry))
			case string:
				cast = append(cast, Character{Name: name, Description: entry})
			}
		}
	}

	cast = cast.named()
	if len(cast) == 0 {
		return nil, ErrNoCharacters
	}
	return cast, nil
}

// objectKeys returns keys of obj in document order when the payload's
// top-level object (or its wrapper) lists them, falling back to sorted order.
func objectKeys(data []byte, obj map[string]interface{}) []string {
	ordered := orderedKeys(data, obj)
	if len(ordered) == len(obj) {
		return ordered
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// orderedKeys scans the JSON token stream for the first object whose key set
// equals obj's.
func orderedKeys(data []byte, obj map[string]interface{}) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	var found []string
	var walk func(depth int) bool
	walk = func(depth int) bool {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		switch d := tok.(type) {
		case json.Delim:
			switch d {
			case '{':
				var keys []string
				for dec.More() {
					kt, err := dec.Token()
					if err != nil {
						return false
					}
					key, _ := kt.(string)
					keys = append(keys, key)
					if walk(depth + 1) {
						return true
					}
				}
				dec.Token() // '}'
				if sameKeys(keys, obj) {
					found = keys
					return true
				}
			case '[':
				for dec.More() {
					if walk(depth + 1) {
						return true
					}
				}
				dec.Token() // ']'
			}
		}
		return false
	}
	walk(0)
	return found
}

func sameKeys(keys []string, obj map[string]interface{}) bool {
	if len(keys) != len(obj) {
		return false
	}
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

func characterFromMap(name string, m map[string]interface{}) Character {
	c := Character{Name: name}
	for k, v := range m {
		if set, ok := characterFields[normalizeKey(k)]; ok {
			if text := flatten(v); text != "" {
				set(&c, text)
			}
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = raw
	}
	if name != "" && c.Name == "" {
		c.Name = name
	}
	return c
}

// flatten renders any JSON value as prompt-safe text.
func flatten(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := flatten(t[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(t)
	}
}

// named drops characters without a name.
func (c Cast) named() Cast {
	out := c[:0]
	for _, ch := range c {
		if strings.TrimSpace(ch.Name) != "" {
			out = append(out, ch)
		}
	}
	return out
}

// Names returns character names in order.
func (c Cast) Names() []string {
	names := make([]string, len(c))
	for i, ch := range c {
		names[i] = ch.Name
	}
	return names
}

// PromptJSON renders the cast compactly for inclusion in prompts.
// Quarantined keys are excluded.
func (c Cast) PromptJSON() string {
	if len(c) == 0 {
		return "[]"
	}
	b, err := json.Marshal(map[string]Cast{"characters": c})
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Goals summarizes each character's motivations, for arc tracking.
func (c Cast) Goals() string {
	var sb strings.Builder
	for _, ch := range c {
		if ch.Motivations == "" && ch.Desires == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s", ch.Name, ch.Motivations)
		if ch.Desires != "" {
			if ch.Motivations != "" {
				sb.WriteString("; ")
			}
			sb.WriteString(ch.Desires)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// Annotated returns a copy with UpdateStatus set on every character.
func (c Cast) Annotated(status string) Cast {
	out := make(Cast, len(c))
	for i, ch := range c {
		ch.UpdateStatus = status
		out[i] = ch
	}
	return out
}

// Merge applies updated profiles onto c by name. Characters missing from
// updates keep their previous profile; unknown names are ignored.
func (c Cast) Merge(updates Cast) Cast {
	byName := make(map[string]Character, len(updates))
	for _, u := range updates {
		byName[strings.ToLower(u.Name)] = u
	}
	out := make(Cast, len(c))
	for i, ch := range c {
		u, ok := byName[strings.ToLower(ch.Name)]
		if !ok {
			out[i] = ch
			continue
		}
		merged := ch
		overlay(&merged.Role, u.Role)
		overlay(&merged.Appearance, u.Appearance)
		overlay(&merged.Personality, u.Personality)
		overlay(&merged.Background, u.Background)
		overlay(&merged.Motivations, u.Motivations)
		overlay(&merged.Fears, u.Fears)
		overlay(&merged.Desires, u.Desires)
		overlay(&merged.Relationships, u.Relationships)
		overlay(&merged.EmotionalState, u.EmotionalState)
		overlay(&merged.GoalProgress, u.GoalProgress)
		overlay(&merged.Knowledge, u.Knowledge)
		overlay(&merged.Growth, u.Growth)
		merged.UpdateStatus = u.UpdateStatus
		out[i] = merged
	}
	return out
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// PlaceholderCast builds n placeholder characters carrying status. Used when
// character generation fails after all attempts.
func PlaceholderCast(n int, status string) Cast {
	if n < 1 {
		n = 1
	}
	cast := make(Cast, n)
	for i := range cast {
		cast[i] = Character{
			Name:         fmt.Sprintf("Character %d", i+1),
			Description:  "Profile unavailable; develop this character from the story context.",
			UpdateStatus: status,
		}
	}
	return cast
}
