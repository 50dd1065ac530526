package awsx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var ErrCredential = errors.New("assume role response missing credential material")

const (
	minAssumeDurationSeconds = 900
	maxAssumeDurationSeconds = 43200
	maxSessionNameLength     = 64
)

type STSAPI interface {
	AssumeRole(ctx context.Context, in *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// AssumeRole obtains cross-account credentials for the sandbox account.
// The session name embeds a timestamp so each assumption is traceable in
// the target account's audit trail.
func AssumeRole(ctx context.Context, api STSAPI, roleArn, sessionPrefix string, durationSeconds int, retry RetryPolicy) (Credentials, error) {
	if durationSeconds < minAssumeDurationSeconds || durationSeconds > maxAssumeDurationSeconds {
		return Credentials{}, fmt.Errorf("assume role duration %ds outside [%d, %d]",
			durationSeconds, minAssumeDurationSeconds, maxAssumeDurationSeconds)
	}
	sessionName := fmt.Sprintf("%s-%d", sessionPrefix, time.Now().Unix())
	if len(sessionName) > maxSessionNameLength {
		sessionName = sessionName[:maxSessionNameLength]
	}

	var out *sts.AssumeRoleOutput
	err := Do(ctx, "assume_role", retry, func(callCtx context.Context) error {
		var callErr error
		out, callErr = api.AssumeRole(callCtx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(roleArn),
			RoleSessionName: aws.String(sessionName),
			DurationSeconds: aws.Int32(int32(durationSeconds)),
		})
		return callErr
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("assume role %s: %w", roleArn, err)
	}

	c := out.Credentials
	if c == nil || c.AccessKeyId == nil || c.SecretAccessKey == nil || c.SessionToken == nil {
		return Credentials{}, fmt.Errorf("assume role %s: %w", roleArn, ErrCredential)
	}
	creds := Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("assume role %s: %w", roleArn, ErrCredential)
	}
	if c.Expiration != nil {
		creds.Expiration = c.Expiration.UTC()
	}
	return creds, nil
}
