package inference

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ClassSet maps output indices of a classifier to human-readable labels.
type ClassSet []string

// CIFAR10Classes is the label order of the CIFAR-10 dataset.
var CIFAR10Classes = ClassSet{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// LoadClassSet reads one label per line. Blank lines and lines starting with
// '#' are skipped.
func LoadClassSet(path string) (ClassSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open class set")
	}
	defer f.Close()

	var set ClassSet
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set = append(set, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read class set %s", path)
	}
	return set, nil
}

// Name returns the label of idx, or "class_<idx>" when the set has none.
func (s ClassSet) Name(idx int) string {
	if idx >= 0 && idx < len(s) {
		return s[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// Index returns the index of name, or -1.
func (s ClassSet) Index(name string) int {
	for i, n := range s {
		if n == name {
			return i
		}
	}
	return -1
}
