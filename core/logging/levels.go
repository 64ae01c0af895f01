package logging

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// PkgLevel represents log level of a package.
type PkgLevel struct {
	pkg string
	lvl byte
	al  zap.AtomicLevel
}

// Package returns package name.
func (pl *PkgLevel) Package() string {
	return pl.pkg
}

// Level returns log level as a letter.
func (pl *PkgLevel) Level() byte {
	return pl.lvl
}

// SetLevel assigns log level.
// Unrecognized input selects info level.
func (pl *PkgLevel) SetLevel(input string) {
	lvl := byte('I')
	if len(input) > 0 {
		lvl = input[0]
	}

	switch lvl {
	case 'V', 'D':
		pl.al.SetLevel(zap.DebugLevel)
	case 'I':
		pl.al.SetLevel(zap.InfoLevel)
	case 'W':
		pl.al.SetLevel(zap.WarnLevel)
	case 'E':
		pl.al.SetLevel(zap.ErrorLevel)
	case 'F', 'N':
		pl.al.SetLevel(zap.DPanicLevel)
	default:
		lvl = 'I'
		pl.al.SetLevel(zap.InfoLevel)
	}
	pl.lvl = lvl
}

var (
	pkgLevelsLock sync.Mutex
	pkgLevels     = map[string]*PkgLevel{}
)

// ListLevels returns all package levels, sorted by package name.
func ListLevels() (list []*PkgLevel) {
	pkgLevelsLock.Lock()
	defer pkgLevelsLock.Unlock()
	for _, pl := range pkgLevels {
		list = append(list, pl)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].pkg < list[j].pkg })
	return list
}

// GetLevel finds or creates package log level object.
func GetLevel(pkg string) (pl *PkgLevel) {
	pkgLevelsLock.Lock()
	defer pkgLevelsLock.Unlock()
	pl = pkgLevels[pkg]
	if pl == nil {
		pl = &PkgLevel{
			pkg: pkg,
			al:  zap.NewAtomicLevel(),
		}
		pl.SetLevel(envLevel(pkg))
		pkgLevels[pkg] = pl
	}
	return pl
}

func envLevel(pkg string) string {
	v, ok := os.LookupEnv(envPrefix + "_" + pkg)
	if !ok {
		v = os.Getenv(envPrefix)
	}
	return v
}
