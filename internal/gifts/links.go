package gifts

import "net/url"

// SetupPath is the customer setup link for a record.
func SetupPath(record Record) string {
	return "/setup/" + url.PathEscape(record.ID) + "?token=" + url.QueryEscape(record.SecurityToken)
}

// ContributionPath is the link shared with third-party contributors.
func ContributionPath(record Record) string {
	return "/join/" + url.PathEscape(record.ContributionToken)
}
