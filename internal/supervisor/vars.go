package supervisor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Variables holds the values substituted into ${NAME} placeholders.
//
// Lists expand only when an argument consists of exactly one placeholder,
// in which case the argument is replaced by every element of the list.
type Variables struct {
	Scalars map[string]string
	Lists   map[string][]string
}

// NewVariables returns an empty variable set.
func NewVariables() Variables {
	return Variables{Scalars: map[string]string{}, Lists: map[string][]string{}}
}

// Set stores a scalar.
func (v Variables) Set(name, value string) Variables {
	v.Scalars[name] = value
	return v
}

// SetList stores a list.
func (v Variables) SetList(name string, values []string) Variables {
	v.Lists[name] = append([]string(nil), values...)
	return v
}

// Merge copies other into v, overwriting duplicates.
func (v Variables) Merge(other Variables) Variables {
	for k, val := range other.Scalars {
		v.Scalars[k] = val
	}
	for k, val := range other.Lists {
		v.Lists[k] = append([]string(nil), val...)
	}
	return v
}

// Expand substitutes scalars in s. A list used in scalar position is joined
// with spaces.
func (v Variables) Expand(s string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := v.Scalars[name]; ok {
			return val
		}
		if list, ok := v.Lists[name]; ok {
			return strings.Join(list, " ")
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return s, fmt.Errorf("undefined variable(s) %s in %q", strings.Join(missing, ", "), s)
	}
	return out, nil
}

// ExpandArgs expands every argument, splicing in list variables.
func (v Variables) ExpandArgs(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if m := placeholder.FindStringSubmatch(arg); m != nil && m[0] == arg {
			if list, ok := v.Lists[m[1]]; ok {
				out = append(out, list...)
				continue
			}
		}
		expanded, err := v.Expand(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded)
	}
	return out, nil
}

// Names lists every defined variable, sorted.
func (v Variables) Names() []string {
	names := make([]string, 0, len(v.Scalars)+len(v.Lists))
	for k := range v.Scalars {
		names = append(names, k)
	}
	for k := range v.Lists {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
