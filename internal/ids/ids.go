// Package ids generates and validates the identifier formats used across the
// NDP backend: process ids, process URIs, workspace scopes, channel ids,
// thread ids, and message ids.
//
// Process and message ids are time-ordered: the first six characters encode
// seconds since the NDP epoch in base36, so lexicographic order equals
// temporal order for ids of the same length.
package ids

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// Epoch is the NDP id epoch: 2007-01-01 00:00:00 UTC. Six base36 characters
// of seconds since this instant cover roughly 68 years.
var Epoch = time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

const (
	// ProcessIDLen is the length of a generated process id.
	ProcessIDLen = 24
	// ChannelIDLen is the length of the suffix after "wch-".
	ChannelIDLen = 36
	// ThreadIDLen is the length of the suffix after "thread-".
	ThreadIDLen = 24
	// MessageIDLen is the length of the suffix after "msg-".
	MessageIDLen = 28
	// SecretLen is the length of registered-service secrets.
	SecretLen = 36

	timePrefixLen = 6
)

var (
	processIDRe = regexp.MustCompile(`^[0-9a-z]{24,}$`)
	channelIDRe = regexp.MustCompile(`^wch-[0-9a-z]{36}$`)
	threadIDRe  = regexp.MustCompile(`^thread-[0-9a-z]{24}$`)
	messageIDRe = regexp.MustCompile(`^msg-[0-9a-z]{28}$`)
)

// timeBase36 renders seconds since Epoch as a fixed-width base36 string.
func timeBase36(now time.Time) string {
	secs := now.UTC().Unix() - Epoch.Unix()
	if secs < 0 {
		secs = 0
	}
	buf := [timePrefixLen]byte{}
	for i := timePrefixLen - 1; i >= 0; i-- {
		buf[i] = base36[secs%36]
		secs /= 36
	}
	return string(buf[:])
}

// msgSeq orders message ids minted by this process. The time prefix has
// one-second resolution, so without it two ids from the same second would
// sort arbitrarily.
var msgSeq atomic.Uint64

const seqLen = 4

// seqBase36 renders the next sequence value as fixed-width base36.
func seqBase36() string {
	n := msgSeq.Add(1)
	buf := [seqLen]byte{}
	for i := seqLen - 1; i >= 0; i-- {
		buf[i] = base36[n%36]
		n /= 36
	}
	return string(buf[:])
}

// randomBase36 returns n cryptographically random base36 characters.
func randomBase36(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("ids: rand.Read: %v", err))
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = base36[int(b)%36]
	}
	return string(out)
}

// NewProcessID returns a fresh time-ordered process id.
func NewProcessID() string {
	return timeBase36(time.Now()) + randomBase36(ProcessIDLen-timePrefixLen)
}

// NewProcessIDAt returns a process id whose time prefix encodes t.
// Used by tests that need deterministic ordering.
func NewProcessIDAt(t time.Time) string {
	return timeBase36(t) + randomBase36(ProcessIDLen-timePrefixLen)
}

// NewChannelID returns a fresh workspace channel id ("wch-" prefix).
func NewChannelID() string {
	return "wch-" + timeBase36(time.Now()) + randomBase36(ChannelIDLen-timePrefixLen)
}

// NewThreadID returns a fresh thread id ("thread-" prefix).
func NewThreadID() string {
	return "thread-" + timeBase36(time.Now()) + randomBase36(ThreadIDLen-timePrefixLen)
}

// NewMessageID returns a fresh message id ("msg-" prefix). A sequence
// component after the time prefix keeps ids minted within the same second
// strictly increasing, so cursor comparisons never skip a message.
func NewMessageID() string {
	return NewMessageIDAt(time.Now())
}

// NewMessageIDAt returns a message id whose time prefix encodes t.
func NewMessageIDAt(t time.Time) string {
	return "msg-" + timeBase36(t) + seqBase36() + randomBase36(MessageIDLen-timePrefixLen-seqLen)
}

// NewSecret returns a short-lived registration secret.
func NewSecret() string {
	return randomBase36(SecretLen)
}

// ValidProcessID reports whether s is a well-formed process id.
func ValidProcessID(s string) bool { return processIDRe.MatchString(s) }

// ValidChannelID reports whether s is a well-formed channel id.
func ValidChannelID(s string) bool { return channelIDRe.MatchString(s) }

// ValidThreadID reports whether s is a well-formed thread id.
func ValidThreadID(s string) bool { return threadIDRe.MatchString(s) }

// ValidMessageID reports whether s is a well-formed message id.
func ValidMessageID(s string) bool { return messageIDRe.MatchString(s) }

// ProcessIDTime extracts the creation time encoded in a process id prefix.
func ProcessIDTime(id string) (time.Time, bool) {
	if !ValidProcessID(id) {
		return time.Time{}, false
	}
	var secs int64
	for i := 0; i < timePrefixLen; i++ {
		idx := strings.IndexByte(base36, id[i])
		if idx < 0 {
			return time.Time{}, false
		}
		secs = secs*36 + int64(idx)
	}
	return Epoch.Add(time.Duration(secs) * time.Second), true
}
