package gateway

import (
	"github.com/sirupsen/logrus"
)

// User-visible denial messages. None carries claim content or upstream
// error detail.
const (
	MessageMissingClientID = "Access denied. This Guacamole instance requires a workspace_client_id parameter. Please access through the TRE UI."
	MessageMissingContext  = "Invalid workspace access: workspace ID is required in URL path or as workspace_id parameter"
	MessageInvalidToken    = "Invalid token"
	MessageExchangeFailed  = "Workspace authentication failed. Please try again from the TRE UI."
	MessageConfiguration   = "Authentication configuration error. Please contact your administrator."
	MessageSession         = "Authentication session unavailable. Please try again."
)

// Denial is a terminal authentication failure. Message is safe to show the
// user; the cause is logged, never carried. errors.Is matches Kind.
type Denial struct {
	// Kind is one of the autherr sentinels.
	Kind error

	Message string

	// RedirectURL, when set, is a portal page describing the failure.
	RedirectURL string
}

func (d *Denial) Error() string {
	return d.Message
}

func (d *Denial) Unwrap() error {
	return d.Kind
}

// deny logs cause and returns a Denial of kind.
func (c *Controller) deny(kind error, message string, cause error, fields logrus.Fields) *Denial {
	entry := c.log.WithFields(fields).WithField("denial", kind.Error())
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("authentication denied")

	return &Denial{Kind: kind, Message: message}
}

// denyWithPortal is deny plus a portal error redirect for workspaceID.
func (c *Controller) denyWithPortal(kind error, message, workspaceID string, cause error, fields logrus.Fields) *Denial {
	d := c.deny(kind, message, cause, fields)
	d.RedirectURL = c.cfg.ErrorRedirectURL(workspaceID, message)
	return d
}

var _ error = (*Denial)(nil)
