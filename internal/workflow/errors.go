// File path: internal/workflow/errors.go
package workflow

import (
	"errors"
	"strings"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrPhaseNotFound    = errors.New("phase not started")
	ErrInvalidPhase     = errors.New("invalid phase number")
	ErrInvalidFlow      = errors.New("invalid flow type")
	ErrPhaseNotApproved = errors.New("prior phase not approved")
	ErrPhaseNotInReview = errors.New("phase not awaiting review")
	ErrPhaseNotRunning  = errors.New("phase generation not running")
	ErrGenerationActive = errors.New("phase generation already in progress")
	ErrExportNotReady   = errors.New("export requires all phases approved")
)

// ValidationErrors carries every questionnaire validation problem found in
// one submission.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "questionnaire validation failed: " + strings.Join(v, "; ")
}
