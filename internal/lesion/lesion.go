// Package lesion defines the fixed set of diagnostic categories the
// classifier predicts.
package lesion

import (
	"fmt"
	"strconv"
	"strings"
)

// Class is a diagnostic category code in the range 0..NumClasses-1.
type Class int

// NumClasses is the number of categories the model outputs.
const NumClasses = 7

const (
	ActinicKeratoses Class = iota
	BasalCellCarcinoma
	KeratosisLesions
	Dermatofibroma
	MelanocyticNevi
	PyogenicGranulomas
	Melanoma
)

var names = [NumClasses]string{
	ActinicKeratoses:   "actinic keratoses and intraepithelial carcinomae(Cancer)",
	BasalCellCarcinoma: "basal cell carcinoma(Cancer)",
	KeratosisLesions:   "keratosis lesions(Cancer)",
	Dermatofibroma:     "dermatofibroma(Cancer)",
	MelanocyticNevi:    "melanocytic nevi(Non-Cancerous)",
	PyogenicGranulomas: "pyogenic granulomas and hemorrhage(Can lead to cancer)",
	Melanoma:           "melanoma(Cancer)",
}

// InvalidLabelError is returned when a class index is not one of the known
// categories.
type InvalidLabelError struct {
	Value string
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("invalid class index %q: must be an integer between 0 and %d", e.Value, NumClasses-1)
}

// Valid reports whether c is a known category.
func (c Class) Valid() bool {
	return c >= 0 && c < NumClasses
}

// String returns the human-readable diagnostic name.
func (c Class) String() string {
	if !c.Valid() {
		return fmt.Sprintf("unknown(%d)", int(c))
	}
	return names[c]
}

// Parse converts a textual class index such as "3" into a Class.
func Parse(s string) (Class, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &InvalidLabelError{Value: s}
	}
	return FromInt(n)
}

// FromInt validates an integer class index.
func FromInt(n int) (Class, error) {
	c := Class(n)
	if !c.Valid() {
		return 0, &InvalidLabelError{Value: strconv.Itoa(n)}
	}
	return c, nil
}

// OneHot returns a NumClasses-length target vector with a 1 at c.
func OneHot(c Class) []float64 {
	v := make([]float64, NumClasses)
	if c.Valid() {
		v[c] = 1
	}
	return v
}

// Info describes one category for API responses.
type Info struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// All returns every category in index order.
func All() []Info {
	out := make([]Info, NumClasses)
	for i := range out {
		out[i] = Info{Index: i, Name: names[i]}
	}
	return out
}
