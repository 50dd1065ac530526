package model

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var (
	// Version-4, RFC-4122 variant only. uuid.Parse would also accept
	// URN and braced forms, which the trigger naming scheme must not.
	uuidV4Pattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	accountPattern = regexp.MustCompile(`^\d{12}$`)
)

const maxEmailLength = 254

func ValidateLeaseUUID(s string) error {
	if !uuidV4Pattern.MatchString(s) {
		return fmt.Errorf("lease uuid %q is not a v4 uuid", s)
	}
	return nil
}

func ValidateAccountID(s string) error {
	if !accountPattern.MatchString(s) {
		return fmt.Errorf("account id %q is not a 12-digit account id", s)
	}
	return nil
}

func ValidateUserEmail(s string) error {
	if s == "" || len(s) > maxEmailLength {
		return fmt.Errorf("user email length must be in [1, %d]", maxEmailLength)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return fmt.Errorf("user email %q: %v", s, err)
	}
	// Reject display-name forms; the signal carries a bare address.
	if addr.Address != s {
		return fmt.Errorf("user email %q must be a bare address", s)
	}
	return nil
}

func (s TerminationSignal) Validate() error {
	if err := ValidateLeaseUUID(s.LeaseID.UUID); err != nil {
		return err
	}
	if err := ValidateUserEmail(s.LeaseID.UserEmail); err != nil {
		return err
	}
	return ValidateAccountID(s.AccountID)
}

func (p TriggerPayload) Validate() error {
	if err := ValidateLeaseUUID(p.LeaseID); err != nil {
		return err
	}
	if err := ValidateUserEmail(p.UserEmail); err != nil {
		return err
	}
	if err := ValidateAccountID(p.AccountID); err != nil {
		return err
	}
	if _, err := time.Parse(time.RFC3339, p.LeaseEndTimestamp); err != nil {
		return fmt.Errorf("leaseEndTimestamp %q: %v", p.LeaseEndTimestamp, err)
	}
	name := strings.TrimSpace(p.TriggerName)
	if name == "" || len(name) > 64 {
		return fmt.Errorf("triggerName length must be in [1, 64]")
	}
	return nil
}
