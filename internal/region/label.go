package region

import "fmt"

// Label names one of the six fixed poster tones.
type Label int

const (
	Blk Label = iota
	Pleat
	DarkMo
	Mo
	HighEx
	Plat
)

const NumLabels = 6

var (
	labelCodes = [NumLabels]uint8{0, 50, 85, 150, 200, 255}
	labelNames = [NumLabels]string{"blk", "pleat", "darkMo", "Mo", "highEx", "Plat"}
)

// Labels returns every label in poster order.
func Labels() []Label {
	return []Label{Blk, Pleat, DarkMo, Mo, HighEx, Plat}
}

// Codes returns the poster code of every label in poster order.
func Codes() []uint8 {
	out := make([]uint8, NumLabels)
	copy(out, labelCodes[:])
	return out
}

func (l Label) Valid() bool {
	return l >= 0 && l < NumLabels
}

// Code is the poster intensity that marks the label.
func (l Label) Code() uint8 {
	return labelCodes[l]
}

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

func LabelForCode(code uint8) (Label, bool) {
	for i, c := range labelCodes {
		if c == code {
			return Label(i), true
		}
	}
	return 0, false
}
