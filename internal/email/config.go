// Package email composes confirmation messages and stores them as
// drafts in the clinic mailbox over IMAP.
package email

// Config holds the IMAP account settings for the drafts mailbox.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool

	// From is the sender address placed on drafts, e.g.
	// "Sam <frontdesk@clinic.example>".
	From string

	// DraftsMailbox is the mailbox drafts are appended to.
	DraftsMailbox string
}

// draftsMailbox returns the configured mailbox, defaulting to "Drafts".
func (c Config) draftsMailbox() string {
	if c.DraftsMailbox == "" {
		return "Drafts"
	}
	return c.DraftsMailbox
}
