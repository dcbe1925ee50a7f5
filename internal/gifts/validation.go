package gifts

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxMessages          = 100
	maxMessageTextLength = 5000
	maxURLLength         = 2048
	maxAuthorLength      = 120
	maxNameLength        = 200
	maxEmailLength       = 320
	maxEngravingLength   = 500
	maxTitleLength       = 300
	maxLifeDatesLength   = 100
	maxTextLength        = 20000
	maxContributionText  = 2000
	maxAlbumImages       = 60
	maxIdentifierLength  = 190
	minPinLength         = 4
	maxPinLength         = 8
)

// ValidatePIN checks the PIN format: 4 to 8 ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) < minPinLength || len(pin) > maxPinLength {
		return validationError("pin must be %d to %d digits", minPinLength, maxPinLength)
	}
	for _, char := range pin {
		if char < '0' || char > '9' {
			return validationError("pin must contain digits only")
		}
	}
	return nil
}

// ValidateMessage checks the message shape and its type-specific content bound.
func ValidateMessage(message Message) error {
	if strings.TrimSpace(message.ID) == "" || len(message.ID) > maxIdentifierLength {
		return validationError("message id is required")
	}
	if err := checkLength("message author", message.Author, maxAuthorLength); err != nil {
		return err
	}
	switch message.Type {
	case MessageTypeText:
		if strings.TrimSpace(message.Content) == "" {
			return validationError("text message %s is empty", message.ID)
		}
		return checkLength("message content", message.Content, maxMessageTextLength)
	case MessageTypeImage, MessageTypeVideo:
		if strings.TrimSpace(message.Content) == "" {
			return validationError("%s message %s requires a url", message.Type, message.ID)
		}
		return checkOptionalURL("message content", message.Content)
	default:
		return validationError("message %s has unsupported type %q", message.ID, message.Type)
	}
}

// ValidateMessages checks the whole album.
func ValidateMessages(messages []Message) error {
	if len(messages) > maxMessages {
		return validationError("at most %d messages are allowed", maxMessages)
	}
	seen := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		if err := ValidateMessage(message); err != nil {
			return err
		}
		if _, duplicate := seen[message.ID]; duplicate {
			return validationError("duplicate message id %s", message.ID)
		}
		seen[message.ID] = struct{}{}
	}
	return nil
}

func validateEmail(value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxEmailLength {
		return validationError("customer email exceeds %d characters", maxEmailLength)
	}
	if _, err := mail.ParseAddress(value); err != nil {
		return validationError("customer email is malformed")
	}
	return nil
}

func checkLength(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return validationError("%s exceeds %d characters", field, limit)
	}
	return nil
}

func checkOptionalURL(field, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxURLLength {
		return validationError("%s exceeds %d bytes", field, maxURLLength)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return validationError("%s must be an absolute http(s) url", field)
	}
	return nil
}
