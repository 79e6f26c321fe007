package message

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/emersion/go-message/mail"
)

// UniqueID returns the content-derived id of m: the URL-safe base64 encoding
// of SHA-1(Message-Id + formatted To list). A message without a Message-Id
// gets one assigned first so the id stays stable for the message's lifetime.
//
// Two messages with the same Message-Id and the same To list share a unique
// id. The id is used as the content store key.
func UniqueID(m *Message) (string, error) {
	if m.uniqueID != "" {
		return m.uniqueID, nil
	}
	id, err := m.EnsureMessageID()
	if err != nil {
		return "", err
	}
	m.uniqueID = ComputeUniqueID(id, m.To())
	return m.uniqueID, nil
}

// UniqueID is UniqueID(m) for callers that know the message already carries a
// Message-Id. It returns "" if one could not be generated.
func (m *Message) UniqueID() string {
	id, _ := UniqueID(m)
	return id
}

// ComputeUniqueID derives the id from its two inputs without touching a
// message.
func ComputeUniqueID(messageID string, to []*mail.Address) string {
	sum := sha1.Sum([]byte(messageID + FormatAddressList(to)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// FormatAddressList renders addresses the way they appear in a header,
// joined by ", ".
func FormatAddressList(addrs []*mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
