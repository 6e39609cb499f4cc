package invitations

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func validCDParams() CreateParams {
	invitedBy := uuid.New()
	return CreateParams{
		Type:              TypeCredentialDelegate,
		OrganizationID:    uuid.New(),
		InvitedBy:         &invitedBy,
		GivenName:         "Pat",
		FamilyName:        "Rivera",
		PhoneRaw:          "(555) 123-4567",
		Email:             "delegate@example.com",
		EmailConfirmation: "delegate@example.com",
	}
}

func TestCreateParamsValidate_CDValid(t *testing.T) {
	params := validCDParams()
	require.Nil(t, params.validate())
}

func TestCreateParamsValidate_CDRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateParams)
		field  string
	}{
		{"missing given name", func(p *CreateParams) { p.GivenName = " " }, "invited_given_name"},
		{"missing family name", func(p *CreateParams) { p.FamilyName = "" }, "invited_family_name"},
		{"missing phone", func(p *CreateParams) { p.PhoneRaw = "" }, "phone_raw"},
		{"short phone", func(p *CreateParams) { p.PhoneRaw = "555-1234" }, "invited_phone"},
		{"missing email", func(p *CreateParams) { p.Email = "" }, "invited_email"},
		{"bad email", func(p *CreateParams) { p.Email = "nope" }, "invited_email"},
		{"confirmation mismatch", func(p *CreateParams) { p.EmailConfirmation = "other@example.com" }, "invited_email_confirmation"},
		{"missing inviter", func(p *CreateParams) { p.InvitedBy = nil }, "invited_by"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validCDParams()
			tc.mutate(&params)

			verr := params.validate()
			require.NotNil(t, verr)
			require.Contains(t, verr.Fields, tc.field)
		})
	}
}

// AO invitations only need the email pair; names, phone and inviter are
// optional.
func TestCreateParamsValidate_AOBlankFieldsAllowed(t *testing.T) {
	params := CreateParams{
		Type:              TypeAuthorizedOfficial,
		OrganizationID:    uuid.New(),
		Email:             "ao@example.com",
		EmailConfirmation: "ao@example.com",
	}
	require.Nil(t, params.validate())
}

func TestCreateParamsValidate_AOEmailStillRequired(t *testing.T) {
	params := CreateParams{
		Type:           TypeAuthorizedOfficial,
		OrganizationID: uuid.New(),
	}

	verr := params.validate()
	require.NotNil(t, verr)
	require.Contains(t, verr.Fields, "invited_email")
}

func TestCreateParamsValidate_EmailConfirmationCaseFolded(t *testing.T) {
	params := validCDParams()
	params.EmailConfirmation = "Delegate@Example.COM"
	require.Nil(t, params.validate())
}
