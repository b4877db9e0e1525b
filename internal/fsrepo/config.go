package fsrepo

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Config wraps a parsed `.git/config`: sections `[section]` or
// `[section "sub"]`, dotted fully-qualified keys, last-wins for
// scalar reads.
type Config struct {
	file *ini.File
}

var loadOptions = ini.LoadOptions{
	SkipUnrecognizableLines: true,
}

// ReadConfig parses the gitconfig-format file at path. A missing file
// yields an empty Config, not an error.
func ReadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Config{file: ini.Empty(loadOptions)}, nil
		}
		return nil, fmt.Errorf("fsrepo: stat config: %w", err)
	}
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("fsrepo: parse config %s: %w", path, err)
	}
	return &Config{file: f}, nil
}

// sectionName maps a gitconfig `[section "sub"]` pair to the raw
// section name the INI library stores it under: it keeps gitconfig's
// own `section "sub"` spelling (quotes included) rather than
// flattening it, which is what lets the same library parse both plain
// INI and gitconfig's quoted-subsection form.
func sectionName(section, sub string) string {
	if sub == "" {
		return section
	}
	return fmt.Sprintf("%s %q", section, sub)
}

// Get returns a scalar value for `section.sub.key` (sub may be
// empty), last-wins if the key is repeated.
func (c *Config) Get(section, sub, key string) (string, bool) {
	sec, err := c.file.GetSection(sectionName(section, sub))
	if err != nil {
		return "", false
	}
	if !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

// Bool returns a boolean scalar value, interpreting gitconfig's
// true/false/yes/no/1/0/on/off spellings via the INI library's Bool
// parser.
func (c *Config) Bool(section, sub, key string) (bool, bool) {
	sec, err := c.file.GetSection(sectionName(section, sub))
	if err != nil || !sec.HasKey(key) {
		return false, false
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		return false, false
	}
	return v, true
}

// All returns every key set in `section.sub` mapped to its value, for
// callers that need to iterate instead of reading a single scalar. A
// repeated key appears once, with its last value; the map does not
// preserve file order.
func (c *Config) All(section, sub string) map[string]string {
	out := map[string]string{}
	sec, err := c.file.GetSection(sectionName(section, sub))
	if err != nil {
		return out
	}
	for _, k := range sec.Keys() {
		out[k.Name()] = k.String()
	}
	return out
}
