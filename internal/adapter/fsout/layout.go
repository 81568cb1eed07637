// Package fsout publishes run results as a directory tree of datasets and
// charts.
package fsout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
)

// countyOutputDir holds a county's own extract next to its municipality folders.
const countyOutputDir = "_output"

// Layout maps every location of the hierarchy to its relative output folder:
// the national name for the nation, <county>/_output for a county, and
// <county>/<municipality> for a municipality.
type Layout struct {
	dirs map[string]string
}

// NewLayout builds the folder layout for index. Names are made safe for use
// as path elements; a folder that would collide with a sibling gets the
// location code appended.
func NewLayout(index *domain.LocationIndex, national domain.National) *Layout {
	l := &Layout{dirs: make(map[string]string)}
	nationalDir := safeName(national.Name, national.Code)
	l.dirs[national.Code] = nationalDir

	top := map[string]bool{nationalDir: true}
	for _, county := range index.Counties() {
		countyDir := safeName(county.Name, county.Code)
		if top[countyDir] {
			countyDir = fmt.Sprintf("%s (%s)", countyDir, county.Code)
		}
		top[countyDir] = true
		l.dirs[county.Code] = filepath.Join(countyDir, countyOutputDir)

		used := map[string]bool{countyOutputDir: true}
		for _, m := range index.Municipalities(county.Code) {
			name := safeName(m.MunicipalityName, m.MunicipalityCode)
			if used[name] {
				name = fmt.Sprintf("%s (%s)", name, m.MunicipalityCode)
			}
			used[name] = true
			l.dirs[m.MunicipalityCode] = filepath.Join(countyDir, name)
		}
	}
	return l
}

// Dir returns the relative folder of a location code.
func (l *Layout) Dir(code string) (string, bool) {
	d, ok := l.dirs[code]
	return d, ok
}

// Provision creates every folder of the layout below root.
func (l *Layout) Provision(root string) error {
	for _, d := range l.dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create output folder %s: %w", d, err)
		}
	}
	return nil
}

var pathReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

func safeName(name, fallback string) string {
	s := strings.TrimSpace(pathReplacer.Replace(name))
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}
