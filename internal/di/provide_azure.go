package di

import (
	"github.com/juju/clock"
	"github.com/sapautomation/sdaf-setup/internal/azcli"
)

// ProvideRunner locates the az CLI
func ProvideRunner() (azcli.Runner, error) {
	return azcli.NewExecRunner()
}

// ProvideClock returns the wall clock used when waiting on workflows
func ProvideClock() clock.Clock {
	return clock.WallClock
}
