package client

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/playlistwatch/playlistwatch/common"
)

// classifyError maps a provider call failure onto the error taxonomy. HTTP
// failures arrive as a googleapi.Error; anything else never reached the
// provider and counts as a network problem.
func classifyError(err error, operation string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return common.WrapError(common.KindNetwork, "network request failed", err).
			WithContext("client", operation, nil)
	}

	var classified *common.ClassifiedError
	switch apiErr.Code {
	case http.StatusUnauthorized:
		classified = common.WrapError(common.KindAuth, "unauthorized: invalid credentials", err)
	case http.StatusForbidden:
		switch apiReason(apiErr) {
		case "quotaExceeded", "dailyLimitExceeded":
			classified = common.WrapError(common.KindQuota, "quota exceeded", err)
		default:
			classified = common.WrapError(common.KindForbidden, "access forbidden", err)
		}
	case http.StatusNotFound:
		classified = common.WrapError(common.KindNotFound, "Resource not found", err)
	case http.StatusTooManyRequests:
		classified = common.WrapError(common.KindRateLimit, "rate limit exceeded", err)
	default:
		classified = common.WrapError(common.KindUnknown, "API error: "+apiErr.Message, err)
	}
	return classified.WithContext("client", operation, nil)
}

// classifyNotFound marks a call that succeeded but returned no matching
// resource, which the provider reports as an empty item list rather than 404.
func classifyNotFound(message string) error {
	return common.NewError(common.KindNotFound, message)
}

// apiReason pulls the first error reason, the field the provider uses to
// distinguish quota exhaustion from plain forbidden.
func apiReason(apiErr *googleapi.Error) string {
	if len(apiErr.Errors) == 0 {
		return ""
	}
	return apiErr.Errors[0].Reason
}
