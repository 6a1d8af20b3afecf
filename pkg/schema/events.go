package schema

// Known contact event types. The event log accepts other types too; these are
// the ones triggers commonly match.
const (
	EventFormSubmitted  = "form_submitted"
	EventEmailOpen      = "email_open"
	EventEmailClick     = "email_click"
	EventTagAdded       = "tag_added"
	EventTagRemoved     = "tag_removed"
	EventPurchase       = "purchase"
	EventListSubscribed = "list_subscribed"
	EventContactCreated = "contact_created"
)
