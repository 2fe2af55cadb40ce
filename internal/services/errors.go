package services

import "errors"

var (
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrGroupNotFound          = errors.New("customer group not found")
	ErrDeliveryServerNotFound = errors.New("delivery server not found")
	ErrBounceServerNotFound   = errors.New("bounce server not found")
	ErrListNotFound           = errors.New("list not found")
	ErrListFieldNotFound      = errors.New("list field not found")
	ErrSubscriberNotFound     = errors.New("subscriber not found")
	ErrCampaignNotFound       = errors.New("campaign not found")
	ErrShareCodeNotFound      = errors.New("share code not found")
	ErrWebhookNotFound        = errors.New("webhook not found")
	ErrSurveyNotFound         = errors.New("survey not found")
	ErrSurveyFieldNotFound    = errors.New("survey field not found")
	ErrURLNotFound            = errors.New("campaign url not found")
	ErrBackupNotFound         = errors.New("backup not found")

	ErrOverQuota               = errors.New("sending quota exceeded")
	ErrNoDeliveryServer        = errors.New("no delivery server available")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrMaxListsReached         = errors.New("maximum number of lists reached")
	ErrMaxSubscribersReached   = errors.New("maximum number of subscribers reached")
	ErrMaxCampaignsReached     = errors.New("maximum number of campaigns reached")
	ErrShareCodeUsed           = errors.New("share code has already been used")
	ErrServerLocked            = errors.New("server is locked")
	ErrEmailFieldProtected     = errors.New("the email field cannot be removed")
	ErrSurveyClosed            = errors.New("survey is not accepting responses")
	ErrSameList                = errors.New("source and destination list are the same")
	ErrUnsupportedServerType   = errors.New("operation not supported for this server type")
	ErrBackupUnsupported       = errors.New("backups are only supported for sqlite databases")
	ErrBackupCorrupt           = errors.New("backup is corrupt")
)
