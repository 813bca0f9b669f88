package mail

import (
	"fmt"
	"strings"
)

func greeting(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

func PasswordReset(to, name, link string) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Text: fmt.Sprintf("%s\n\nUse the link below to choose a new password. It expires in 30 minutes.\n\n%s\n\nIf you did not ask for a reset you can ignore this message.\n",
			greeting(name), link),
	}
}

func VerifyEmail(to, name, link string) Message {
	return Message{
		To:      to,
		Subject: "Confirm your email address",
		Text:    fmt.Sprintf("%s\n\nConfirm your email address by opening:\n\n%s\n", greeting(name), link),
	}
}

func RolesChanged(to, name string, roles []string) Message {
	list := "none"
	if len(roles) > 0 {
		list = strings.Join(roles, ", ")
	}
	return Message{
		To:      to,
		Subject: "Your access has changed",
		Text:    fmt.Sprintf("%s\n\nAn administrator updated your roles. Current roles: %s.\n", greeting(name), list),
	}
}

func AccountSuspended(to, name string) Message {
	return Message{
		To:      to,
		Subject: "Your account has been suspended",
		Text:    fmt.Sprintf("%s\n\nYour account was suspended and every active session was signed out. Contact your manager if this is unexpected.\n", greeting(name)),
	}
}

func AccountReactivated(to, name string) Message {
	return Message{
		To:      to,
		Subject: "Your account has been reactivated",
		Text:    fmt.Sprintf("%s\n\nYour account is active again. You can sign in as usual.\n", greeting(name)),
	}
}
