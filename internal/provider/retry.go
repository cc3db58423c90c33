package provider

import (
	"context"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pi-agent/pi/pkg/types"
)

// maxRetryDelay caps a single backoff wait.
const maxRetryDelay = time.Minute

var (
	retryablePattern = regexp.MustCompile(`(?i)overloaded|rate.?limit|too many requests|\b429\b|\b5(00|02|03|04)\b|service.?unavailable|server.?error|internal.?error|connection.?(refused|reset)|timed? ?out|other side closed|fetch failed|\bEOF\b`)
	overflowPattern  = regexp.MustCompile(`(?i)context.?length|prompt is too long|maximum context|too many tokens|context window`)
)

// IsRetryable reports whether a model error message looks transient.
// Context overflow errors are never retried.
func IsRetryable(errorMessage string) bool {
	if errorMessage == "" || overflowPattern.MatchString(errorMessage) {
		return false
	}
	return retryablePattern.MatchString(errorMessage)
}

// IsContextOverflow reports whether a model error says the prompt did not
// fit the context window.
func IsContextOverflow(errorMessage string) bool {
	return errorMessage != "" && overflowPattern.MatchString(errorMessage)
}

// RetryPolicy is exponential backoff for failed model calls: BaseDelay,
// then doubling, at most MaxRetries times.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// RetryNotice describes a retry about to happen.
type RetryNotice struct {
	Attempt      int
	MaxAttempts  int
	Delay        time.Duration
	ErrorMessage string
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = maxRetryDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)
}

// Retry calls attempt until it returns a message that is not a retryable
// error or the policy is exhausted. notify is called before each wait.
// Cancelling ctx while waiting turns the last failure into an aborted
// message.
func Retry(ctx context.Context, p RetryPolicy, attempt func(context.Context) *types.AssistantMessage, notify func(RetryNotice)) *types.AssistantMessage {
	b := p.backOff(ctx)
	for n := 1; ; n++ {
		msg := attempt(ctx)
		if msg.StopReason != types.StopReasonError || !IsRetryable(msg.ErrorMessage) {
			return msg
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			if ctx.Err() != nil {
				markAborted(msg)
			}
			return msg
		}
		if notify != nil {
			notify(RetryNotice{Attempt: n, MaxAttempts: p.MaxRetries, Delay: delay, ErrorMessage: msg.ErrorMessage})
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			markAborted(msg)
			return msg
		case <-t.C:
		}
	}
}

func markAborted(msg *types.AssistantMessage) {
	msg.StopReason = types.StopReasonAborted
	msg.ErrorMessage = AbortedMessage
}
