package ostree

import (
	"bytes"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// keyfileOptions reads repository config files the way GKeyFile does:
// values run to the end of the line and names are case sensitive.
var keyfileOptions = ini.LoadOptions{IgnoreInlineComment: true}

func newKeyfile() *ini.File { return ini.Empty(keyfileOptions) }

func parseKeyfile(data []byte) (*ini.File, error) {
	f, err := ini.LoadSources(keyfileOptions, data)
	if err != nil {
		return nil, errors.Wrap(err, "parse keyfile")
	}
	return f, nil
}

// keyfileValue returns the value of key in section, or "" when either is
// missing. Missing sections are not created.
func keyfileValue(f *ini.File, section, key string) string {
	s, err := f.GetSection(section)
	if err != nil {
		return ""
	}
	return s.Key(key).String()
}

func marshalKeyfile(f *ini.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "write keyfile")
	}
	return buf.Bytes(), nil
}
