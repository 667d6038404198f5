package sandbox

import (
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
)

const (
	packageName = "script"
	entryPoint  = "Run"
)

// DefaultImports is the fixed import set every fragment is compiled against.
var DefaultImports = []string{
	"encoding/json",
	"errors",
	"fmt",
	"io",
	"math",
	"sort",
	"strconv",
	"strings",
	"time",
}

// wrapper holds the rendered text around a fragment. The prefix ends with a
// newline, so the fragment's first line is prefixLines+1 in the unit source.
type wrapper struct {
	prefix      string
	suffix      string
	prefixLines int
}

func newWrapper(imports []string, refs interp.Exports) (*wrapper, error) {
	set := map[string]bool{"io": true}
	for _, imp := range imports {
		set[imp] = true
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		if _, ok := refs[exportKey(p)]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownImport, p)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n\n", packageName)
	b.WriteString("import (\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "\t%q\n", p)
	}
	b.WriteString(")\n\n")

	// Every import gets a blank use so fragments that ignore a package still compile.
	var uses []string
	for _, p := range paths {
		if sym := firstFunc(refs[exportKey(p)]); sym != "" {
			uses = append(uses, fmt.Sprintf("\t_ = %s.%s\n", path.Base(p), sym))
		}
	}
	if len(uses) > 0 {
		b.WriteString("var (\n")
		for _, u := range uses {
			b.WriteString(u)
		}
		b.WriteString(")\n\n")
	}

	fmt.Fprintf(&b, "func %s(env map[string]any, out io.Writer) any {\n", entryPoint)
	prefix := b.String()

	return &wrapper{
		prefix:      prefix,
		suffix:      "\n\treturn nil\n}\n",
		prefixLines: strings.Count(prefix, "\n"),
	}, nil
}

func (w *wrapper) render(fragment string) string {
	return w.prefix + fragment + w.suffix
}

// fragmentLine maps a line of the unit source back to the fragment. Lines in
// the suffix clamp to the fragment's last line.
func (w *wrapper) fragmentLine(unitLine, fragmentLines int) int {
	line := unitLine - w.prefixLines
	if line < 1 {
		return 1
	}
	if fragmentLines > 0 && line > fragmentLines {
		return fragmentLines
	}
	return line
}

func exportKey(importPath string) string {
	return importPath + "/" + path.Base(importPath)
}

func firstFunc(symbols map[string]reflect.Value) string {
	names := make([]string, 0, len(symbols))
	for name, v := range symbols {
		if v.IsValid() && v.Kind() == reflect.Func {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}
