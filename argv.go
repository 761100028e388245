package hg

import (
	"strconv"
	"time"
)

// argv accumulates an hg command line: the command name, then switches,
// then positional arguments. Empty values and unset flags are omitted,
// and list values repeat their switch the way hg expects repeated
// options.
type argv []string

func command(name string) argv {
	return argv{name}
}

func (a argv) flag(name string, on bool) argv {
	if on {
		a = append(a, name)
	}
	return a
}

func (a argv) value(name, val string) argv {
	if val != "" {
		a = append(a, name, val)
	}
	return a
}

func (a argv) values(name string, vals []string) argv {
	for _, v := range vals {
		a = append(a, name, v)
	}
	return a
}

func (a argv) int(name string, val int) argv {
	if val != 0 {
		a = append(a, name, strconv.Itoa(val))
	}
	return a
}

func (a argv) time(name string, val time.Time) argv {
	if !val.IsZero() {
		a = append(a, name, hgDate(val))
	}
	return a
}

func (a argv) add(vals ...string) argv {
	return append(a, vals...)
}
