package database

import (
	"context"
	"fmt"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckAll pings every named dependency and returns the failures keyed by name.
func CheckAll(ctx context.Context, deps map[string]Pinger) map[string]string {
	failures := make(map[string]string)
	for name, dep := range deps {
		if dep == nil {
			failures[name] = "not configured"
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			failures[name] = fmt.Sprintf("%v", err)
		}
	}
	return failures
}
