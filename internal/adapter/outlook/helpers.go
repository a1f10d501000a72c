package outlook

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func sortEventsByStartTime(events []core.RemoteEvent) {
	slices.SortStableFunc(events, func(a, b core.RemoteEvent) int {
		return a.Start.Compare(b.Start)
	})
}

// parseSDKDateTime converts a Graph SDK DateTimeTimeZone to time.Time.
// Times are in UTC because we set the Prefer: outlook.timezone="UTC" header.
func parseSDKDateTime(dt models.DateTimeTimeZoneable) time.Time {
	if dt == nil {
		return time.Time{}
	}
	dateTimeStr := dt.GetDateTime()
	if dateTimeStr == nil {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02T15:04:05.0000000",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, *dateTimeStr); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// graphStatus extracts the HTTP status from a Graph SDK error, or 0.
func graphStatus(err error) int {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		return odataErr.ResponseStatusCode
	}
	var apiErr *abstractions.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.ResponseStatusCode
	}
	return 0
}

func graphMessage(err error) string {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		if main := odataErr.GetErrorEscaped(); main != nil {
			return derefStr(main.GetCode()) + ": " + derefStr(main.GetMessage())
		}
	}
	return err.Error()
}

func classifyGraphError(op string, err error) error {
	switch status := graphStatus(err); status {
	case 0:
		return errs.Wrap(errs.CodeRemoteUnavailable, op, err)
	case http.StatusNotFound, http.StatusGone:
		return errs.Wrap(errs.CodeNotFound, op, err)
	case http.StatusUnauthorized:
		return errs.Wrap(errs.CodeReconnectionRequired, op, err)
	case http.StatusForbidden:
		return errs.Wrap(errs.CodeInsufficientScope, op+": "+graphMessage(err), err)
	default:
		return errs.Wrap(errs.CodeRemoteUnavailable, fmt.Sprintf("%s: HTTP %d", op, status), err)
	}
}
