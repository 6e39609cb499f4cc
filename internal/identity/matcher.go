package identity

// CDClaims are the invited-person fields recorded on a credential delegate
// invitation at creation time.
type CDClaims struct {
	GivenName  string
	FamilyName string
	Email      string
	Phone      string
}

// CDMatch compares a credential delegate invitation's claims against the
// verified identity of the person accepting it.
//
// Family name and email are authoritative: both must match (case-folded) for
// acceptance. Given name and phone were already validated when the AO created
// the invitation and may legitimately differ at login (nicknames, new
// numbers), so they are required to be present but never cause a rejection.
func CDMatch(claims CDClaims, info UserInfo) (bool, error) {
	if info.GivenName == "" {
		return false, missing("given_name")
	}
	if info.FamilyName == "" {
		return false, missing("family_name")
	}
	if info.Phone == "" {
		return false, missing("phone")
	}
	if err := requireEmails(info); err != nil {
		return false, err
	}

	if !foldEqual(claims.FamilyName, info.FamilyName) {
		return false, nil
	}
	return emailKnown(claims.Email, info), nil
}

// EmailMatch reports whether the invited email belongs to the verified
// identity, checking the primary address and all known alternates
// case-insensitively. Used for authorized official invitations, which match
// on email alone.
func EmailMatch(invitedEmail string, info UserInfo) (bool, error) {
	if err := requireEmails(info); err != nil {
		return false, err
	}
	return emailKnown(invitedEmail, info), nil
}

func requireEmails(info UserInfo) error {
	if info.Email == "" {
		return missing("email")
	}
	if len(info.AllEmails) == 0 {
		return missing("all_emails")
	}
	return nil
}

func emailKnown(email string, info UserInfo) bool {
	if foldEqual(email, info.Email) {
		return true
	}
	for _, known := range info.AllEmails {
		if foldEqual(email, known) {
			return true
		}
	}
	return false
}
