package model

import "fmt"

type EnvMode int

const (
	// EnvNone is the zero value so an unset grant denies everything.
	EnvNone EnvMode = iota
	EnvAll
	EnvAllowList
)

func (m EnvMode) String() string {
	switch m {
	case EnvAll:
		return "all"
	case EnvAllowList:
		return "allow-list"
	default:
		return "none"
	}
}

type EnvPair struct {
	Name  string
	Value string
}

// EnvVars is a materialized environment grant. For EnvAllowList, Pairs holds
// values captured at resolution time. EnvAll is never enumerated here; the
// execution engine reads the live environment when the task starts.
type EnvVars struct {
	Mode  EnvMode
	Pairs []EnvPair
}

func NoEnv() EnvVars { return EnvVars{Mode: EnvNone} }

func AllEnv() EnvVars { return EnvVars{Mode: EnvAll} }

func AllowListEnv(pairs []EnvPair) EnvVars {
	return EnvVars{Mode: EnvAllowList, Pairs: pairs}
}

// Names returns the variable names of an allow-list grant in order.
func (e EnvVars) Names() []string {
	names := make([]string, 0, len(e.Pairs))
	for _, p := range e.Pairs {
		names = append(names, p.Name)
	}
	return names
}

// String never includes values.
func (e EnvVars) String() string {
	if e.Mode != EnvAllowList {
		return e.Mode.String()
	}
	return fmt.Sprintf("allow-list%v", e.Names())
}
