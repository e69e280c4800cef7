// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
package remote

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// Remote is one configured remote's connection parameters. Token lives
// in config.local (mode 0600); everything else lives in config.
type Remote struct {
	Name        string
	URL         string
	Token       string
	TimeoutSecs int
	VerifySSL   bool
	Transformer string
	Format      string
}

var sectionRE = regexp.MustCompile(`^\[remote\s+"([^"]+)"\]$`)

// iniDoc is a parsed INI file that remembers every line verbatim so
// rewriting the remote section never disturbs unrelated configuration or
// comments, per the "String-based config parsing" design note.
type iniDoc struct {
	lines []iniLine
}

type iniLine struct {
	raw     string
	section string // "" for lines outside any [remote "..."] section
	key     string // "" for non key=value lines
	value   string
}

func parseINI(data []byte) *iniDoc {
	doc := &iniDoc{}
	section := ""
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		raw := sc.Text()
		trimmed := strings.TrimSpace(raw)

		if m := sectionRE.FindStringSubmatch(trimmed); m != nil {
			section = m[1]
			doc.lines = append(doc.lines, iniLine{raw: raw, section: section})
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = ""
			doc.lines = append(doc.lines, iniLine{raw: raw})
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			doc.lines = append(doc.lines, iniLine{raw: raw, section: section})
			continue
		}
		if k, v, ok := strings.Cut(trimmed, "="); ok && section != "" {
			doc.lines = append(doc.lines, iniLine{raw: raw, section: section, key: strings.TrimSpace(k), value: strings.TrimSpace(v)})
			continue
		}
		doc.lines = append(doc.lines, iniLine{raw: raw, section: section})
	}
	return doc
}

func (d *iniDoc) remoteFields(name string) map[string]string {
	fields := make(map[string]string)
	for _, l := range d.lines {
		if l.section == name && l.key != "" {
			fields[l.key] = l.value
		}
	}
	return fields
}

func (d *iniDoc) remoteNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range d.lines {
		if l.section != "" && !seen[l.section] {
			seen[l.section] = true
			names = append(names, l.section)
		}
	}
	return names
}

// setRemote replaces (or appends) the ["remote "name"] section's
// key=value lines with fields, leaving every other section and comment
// untouched.
func (d *iniDoc) setRemote(name string, fields map[string]string) {
	keys := []string{"url", "timeout", "verify_ssl", "transformer", "format", "token"}

	var out []iniLine
	replaced := false
	i := 0
	for i < len(d.lines) {
		l := d.lines[i]
		if l.section == name {
			if !replaced {
				out = append(out, iniLine{raw: fmt.Sprintf("[remote %q]", name), section: name})
				for _, k := range keys {
					if v, ok := fields[k]; ok {
						out = append(out, iniLine{raw: fmt.Sprintf("%s = %s", k, v), section: name, key: k, value: v})
					}
				}
				replaced = true
			}
			i++
			continue
		}
		out = append(out, l)
		i++
	}
	if !replaced {
		if len(out) > 0 {
			out = append(out, iniLine{raw: ""})
		}
		out = append(out, iniLine{raw: fmt.Sprintf("[remote %q]", name), section: name})
		for _, k := range keys {
			if v, ok := fields[k]; ok {
				out = append(out, iniLine{raw: fmt.Sprintf("%s = %s", k, v), section: name, key: k, value: v})
			}
		}
	}
	d.lines = out
}

func (d *iniDoc) removeRemote(name string) {
	var out []iniLine
	for _, l := range d.lines {
		if l.section != name {
			out = append(out, l)
		}
	}
	d.lines = out
}

func (d *iniDoc) render() string {
	var sb strings.Builder
	for _, l := range d.lines {
		sb.WriteString(l.raw)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func loadINI(path string) (*iniDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &iniDoc{}, nil
		}
		return nil, ebrerrors.NewIO("cannot read config", path, err)
	}
	return parseINI(data), nil
}

func saveINI(path string, doc *iniDoc, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc.render()), perm); err != nil {
		return ebrerrors.NewIO("cannot write config", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ebrerrors.NewIO("cannot replace config", path, err)
	}
	return nil
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
