package index

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// MenuFileName is the clutter code file read next to an index.
const MenuFileName = "menu.txt"

// readMenu reads "<code> <name>" lines into names indexed by code. A missing file
// yields no categories.
func readMenu(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		codeField, label, _ := strings.Cut(line, " ")
		code, err := strconv.Atoi(codeField)
		if err != nil || code < 0 || code > 0xffff {
			return nil, fmt.Errorf("%s:%d: invalid clutter code %q", name, lineNum, codeField)
		}
		for len(names) <= code {
			names = append(names, "")
		}
		names[code] = strings.TrimSpace(label)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return names, nil
}
