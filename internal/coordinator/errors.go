// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"regexp"

	"github.com/kaelindev/driftline/internal/restclient"
)

// credentialPattern matches the credential shapes this codebase ever
// sees in an error string: a bearer header value, or one of the chat
// service's own token prefixes followed by its opaque suffix.
var credentialPattern = regexp.MustCompile(`(?i)(Bearer\s+\S+|xox[bpc]-\S+|xapp-\S+)`)

// ActionableError renders err as a single user-facing line: any
// credential-shaped substring is redacted regardless of which component
// produced the error, and a short remediation hint is appended for the
// error kinds that have one.
func ActionableError(err error) string {
	if err == nil {
		return ""
	}
	msg := restclient.UserMessage(err)
	return credentialPattern.ReplaceAllString(msg, "[REDACTED]")
}
