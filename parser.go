package webcamctl

import (
	"regexp"
	"strconv"
	"strings"
)

// numeric controls: "zoom_absolute 0x009a090d (int) : min=0 max=100 step=1 default=0 value=50"
var numericControlRe = regexp.MustCompile(`^(\w+)\b.*?\bmin=([+-]?\d+)\b.*?\bmax=([+-]?\d+)\b.*?\bstep=([+-]?\d+)\b.*?\bvalue=([+-]?\d+)\b`)

// boolean controls carry no range: "white_balance_automatic 0x0098090c (bool) : default=1 value=1"
var boolControlRe = regexp.MustCompile(`^(\w+)\s+0x[0-9a-fA-F]+\s+\(bool\).*?\bvalue=([+-]?\d+)\b`)

// ParseControls converts control listing output into a control table.
// Lines that do not describe a numeric or boolean control are skipped, and a
// later line for the same name replaces an earlier one.
func ParseControls(text string) Table {
	table := make(Table)
	for _, line := range strings.Split(text, "\n") {
		control, ok := parseControlLine(strings.TrimSpace(line))
		if ok {
			table[control.Name] = control
		}
	}
	return table
}

func parseControlLine(line string) (Control, bool) {
	if line == "" {
		return Control{}, false
	}
	if m := numericControlRe.FindStringSubmatch(line); m != nil {
		var nums [4]int64
		for i := range nums {
			n, err := strconv.ParseInt(m[i+2], 10, 64)
			if err != nil {
				return Control{}, false
			}
			nums[i] = n
		}
		return Control{Name: m[1], Min: nums[0], Max: nums[1], Step: nums[2], Value: nums[3]}, true
	}
	if m := boolControlRe.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Control{}, false
		}
		return Control{Name: m[1], Min: 0, Max: 1, Step: 1, Value: v}, true
	}
	return Control{}, false
}
