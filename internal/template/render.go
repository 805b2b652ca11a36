// Package template provides account email body rendering.
//
// Supported variables:
//
//	{{user.id}}, {{user.name}}, {{user.given_name}},
//	{{user.family_name}}, {{user.email}}
//
//	{{link.url}}, {{link.expires_at}}
package template

import (
	"strings"
	"time"

	"github.com/civicid/backend/internal/model"
)

// UserData holds the user fields available to a template.
type UserData struct {
	ID         string
	Name       string
	GivenName  string
	FamilyName string
	Email      string
}

// LinkData holds the action-link fields available to a template.
type LinkData struct {
	URL       string
	ExpiresAt time.Time
}

func UserDataFromModel(user *model.User) UserData {
	return UserData{
		ID:         user.ID,
		Name:       user.Name(),
		GivenName:  user.GivenName,
		FamilyName: user.FamilyName,
		Email:      user.Email,
	}
}

// RenderBody replaces template variables with their values.
//
// Either user or link may be nil; variables for a nil section render as
// empty strings.
func RenderBody(body string, user *UserData, link *LinkData) string {
	pairs := make([]string, 0, 14)

	if user != nil {
		pairs = append(pairs,
			"{{user.id}}", user.ID,
			"{{user.name}}", user.Name,
			"{{user.given_name}}", user.GivenName,
			"{{user.family_name}}", user.FamilyName,
			"{{user.email}}", user.Email,
		)
	} else {
		pairs = append(pairs,
			"{{user.id}}", "",
			"{{user.name}}", "",
			"{{user.given_name}}", "",
			"{{user.family_name}}", "",
			"{{user.email}}", "",
		)
	}

	if link != nil {
		expiresAt := ""
		if !link.ExpiresAt.IsZero() {
			expiresAt = link.ExpiresAt.Format(time.RFC3339)
		}
		pairs = append(pairs,
			"{{link.url}}", link.URL,
			"{{link.expires_at}}", expiresAt,
		)
	} else {
		pairs = append(pairs,
			"{{link.url}}", "",
			"{{link.expires_at}}", "",
		)
	}

	return strings.NewReplacer(pairs...).Replace(body)
}

// VerifyEmailBody is the default body for the address-verification email.
const VerifyEmailBody = `Dear {{user.name}},

Thank you for creating an account. Please confirm your email address by
opening the link below before {{link.expires_at}}:

{{link.url}}
`
