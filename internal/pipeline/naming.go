package pipeline

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	fallbackName  = "course"
	maxNameLength = 200
)

var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// SanitizeName turns a course title into a name that is safe to use as a
// single directory on any common filesystem.
func SanitizeName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, title)
	name = strings.Join(strings.Fields(name), " ")

	if len(name) > maxNameLength {
		cut := maxNameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}

	// windows drops trailing dots and spaces
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return fallbackName
	}
	if reservedNames[strings.ToLower(name)] {
		name += "_"
	}
	return name
}

// nameAllocator hands out directory names that do not collide with each
// other, with the archive a directory is extracted from, or with another
// name that only differs in case.
type nameAllocator struct {
	taken map[string]bool
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{taken: map[string]bool{}}
}

func (a *nameAllocator) free(name string) bool {
	key := strings.ToLower(name)
	return !a.taken[key] && !a.taken[key+".zip"]
}

// allocate returns SanitizeName(title), suffixed with " (n)" for the n-th
// course that resolves to the same name.
func (a *nameAllocator) allocate(title string) string {
	base := SanitizeName(title)
	name := base
	for n := 2; !a.free(name); n++ {
		name = fmt.Sprintf("%s (%d)", base, n)
	}
	key := strings.ToLower(name)
	a.taken[key] = true
	a.taken[key+".zip"] = true
	return name
}
