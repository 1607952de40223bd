// Package platemap applies interactive plate-map edits: the cell line and
// drug/dose set of listed wells are replaced wholesale, unlike file
// ingestion which only ever adds.
package platemap

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/catalog"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
)

// Map is a plate-map document.
//
//	plates:
//	  - plate: PlateA
//	    wells:
//	      - well: A1
//	        cell_line: MCF7
//	        drugs:
//	          - {drug: Gefitinib, dose: 1, units: uM}
type Map struct {
	Plates []Plate `yaml:"plates"`
}

// Plate lists the wells to rewrite on one plate. Width and Height are only
// needed when the plate does not exist yet.
type Plate struct {
	Name   string `yaml:"plate"`
	Width  int    `yaml:"width,omitempty"`
	Height int    `yaml:"height,omitempty"`
	Wells  []Well `yaml:"wells"`
}

// Well is the full new state of one well. An empty CellLine clears it and
// an empty Drugs list makes the well a control.
type Well struct {
	Well     string `yaml:"well"`
	CellLine string `yaml:"cell_line,omitempty"`
	Drugs    []Dose `yaml:"drugs,omitempty"`
}

// Dose is one drug slot. Units default to molar.
type Dose struct {
	Drug  string  `yaml:"drug"`
	Dose  float64 `yaml:"dose"`
	Units string  `yaml:"units,omitempty"`
}

var unitScale = map[string]float64{
	"":   1,
	"m":  1,
	"mm": 1e-3,
	"um": 1e-6,
	"µm": 1e-6,
	"nm": 1e-9,
	"pm": 1e-12,
}

// Molar returns the dose in mol/L.
func (d Dose) Molar() (float64, error) {
	scale, ok := unitScale[strings.ToLower(strings.TrimSpace(d.Units))]
	if !ok {
		return 0, fmt.Errorf("unknown dose unit %q", d.Units)
	}
	return d.Dose * scale, nil
}

// Load decodes a YAML plate map.
func Load(r io.Reader) (*Map, error) {
	var m Map
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, pferrors.Wrap(err, pferrors.CodeDecode, "parse plate map").WithContext("format", "platemap")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads a YAML plate map from disk.
func LoadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Validate checks names, wells and doses without touching the store.
func (m *Map) Validate() error {
	seenPlate := make(map[string]bool)
	for _, p := range m.Plates {
		if strings.TrimSpace(p.Name) == "" {
			return pferrors.New(pferrors.CodeInvalidPlate, "plate map entry without a plate name")
		}
		if seenPlate[p.Name] {
			return invalid(p.Name, "plate listed twice")
		}
		seenPlate[p.Name] = true
		if (p.Width != 0 || p.Height != 0) && !model.IsStandard(p.Width, p.Height) {
			return invalid(p.Name, fmt.Sprintf("%dx%d is not a supported plate size", p.Height, p.Width))
		}

		seenWell := make(map[string]bool)
		for _, w := range p.Wells {
			row, col, err := model.ParseWellName(w.Well)
			if err != nil {
				return invalid(p.Name, err.Error())
			}
			key := fmt.Sprintf("%d/%d", row, col)
			if seenWell[key] {
				return invalid(p.Name, fmt.Sprintf("well %s listed twice", w.Well))
			}
			seenWell[key] = true

			seenDrug := make(map[string]bool)
			for _, d := range w.Drugs {
				if strings.TrimSpace(d.Drug) == "" {
					return invalid(p.Name, fmt.Sprintf("well %s: drug without a name", w.Well))
				}
				if seenDrug[catalog.Key(d.Drug)] {
					return invalid(p.Name, fmt.Sprintf("well %s: drug %s listed twice", w.Well, d.Drug))
				}
				seenDrug[catalog.Key(d.Drug)] = true
				dose, err := d.Molar()
				if err != nil {
					return invalid(p.Name, fmt.Sprintf("well %s: %v", w.Well, err))
				}
				if dose < 0 {
					return invalid(p.Name, fmt.Sprintf("well %s: negative dose", w.Well))
				}
			}
		}
	}
	return nil
}

// CellLineNames returns every non-empty cell line in the map.
func (m *Map) CellLineNames() []string {
	var out []string
	for _, p := range m.Plates {
		for _, w := range p.Wells {
			if w.CellLine != "" {
				out = append(out, w.CellLine)
			}
		}
	}
	return out
}

// DrugNames returns every drug in the map.
func (m *Map) DrugNames() []string {
	var out []string
	for _, p := range m.Plates {
		for _, w := range p.Wells {
			for _, d := range w.Drugs {
				out = append(out, d.Drug)
			}
		}
	}
	return out
}

func invalid(plate, msg string) error {
	return pferrors.Decodef("platemap", "%s", msg).WithContext("plate", plate)
}
