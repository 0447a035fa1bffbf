package main

import (
	"errors"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// exitCodeFor maps a command failure to a shell exit code: 130 for an
// interrupted run (SIGINT/SIGTERM during serve), 1 for everything else.
// internal/kernel never calls os.Exit; this mapping lives only here.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Code == domain.ErrCodeShutdown {
		return 130
	}
	return 1
}
