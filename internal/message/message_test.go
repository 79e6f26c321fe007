package message

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func addr(a string) *mail.Address { return &mail.Address{Address: a} }

func TestUniqueID_SameMessageIDAndRecipients(t *testing.T) {
	m1 := New()
	m1.SetMessageID("fixed@example.com")
	m1.SetTo(addr("a@x"), addr("b@x"))

	m2 := New()
	m2.SetMessageID("fixed@example.com")
	m2.SetTo(addr("a@x"), addr("b@x"))
	m2.SetSubject("a different subject does not matter")

	if m1.UniqueID() == "" {
		t.Fatal("UniqueID returned empty id")
	}
	if m1.UniqueID() != m2.UniqueID() {
		t.Errorf("UniqueID mismatch: %q vs %q", m1.UniqueID(), m2.UniqueID())
	}
}

func TestUniqueID_DiffersOnInputs(t *testing.T) {
	base := New()
	base.SetMessageID("fixed@example.com")
	base.SetTo(addr("a@x"))

	otherRcpt := New()
	otherRcpt.SetMessageID("fixed@example.com")
	otherRcpt.SetTo(addr("b@x"))

	otherID := New()
	otherID.SetMessageID("other@example.com")
	otherID.SetTo(addr("a@x"))

	if base.UniqueID() == otherRcpt.UniqueID() {
		t.Error("different recipients produced the same unique id")
	}
	if base.UniqueID() == otherID.UniqueID() {
		t.Error("different message ids produced the same unique id")
	}
}

func TestUniqueID_InvalidatedBySetters(t *testing.T) {
	m := New()
	m.SetMessageID("one@example.com")
	m.SetTo(addr("a@x"))
	first := m.UniqueID()

	m.SetTo(addr("a@x"), addr("c@x"))
	afterTo := m.UniqueID()
	if afterTo == first {
		t.Error("SetTo did not invalidate the unique id")
	}

	m.SetMessageID("two@example.com")
	afterID := m.UniqueID()
	if afterID == afterTo {
		t.Error("SetMessageID did not invalidate the unique id")
	}

	m.SetHeader("To", "d@x")
	if m.UniqueID() == afterID {
		t.Error("SetHeader(To) did not invalidate the unique id")
	}

	before := m.UniqueID()
	m.SetSubject("unrelated")
	if m.UniqueID() != before {
		t.Error("SetSubject changed the unique id")
	}
}

func TestUniqueID_AssignsStableMessageID(t *testing.T) {
	m := New()
	m.SetTo(addr("a@x"))
	if m.MessageID() != "" {
		t.Fatalf("new message already has a Message-Id: %q", m.MessageID())
	}

	id, err := UniqueID(m)
	if err != nil {
		t.Fatalf("UniqueID: %v", err)
	}
	msgID := m.MessageID()
	if msgID == "" {
		t.Fatal("UniqueID did not assign a Message-Id")
	}

	again, _ := UniqueID(m)
	if again != id || m.MessageID() != msgID {
		t.Error("unique id or Message-Id changed between calls")
	}
	if want := ComputeUniqueID(msgID, m.To()); id != want {
		t.Errorf("UniqueID = %q, want %q", id, want)
	}
}

func TestUniqueID_URLSafe(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := New()
		m.SetTo(addr("user@example.com"))
		id := m.UniqueID()
		if strings.ContainsAny(id, "/+=") {
			t.Fatalf("unique id %q is not URL safe", id)
		}
	}
}

func TestParse_PreservesIdentity(t *testing.T) {
	m := New()
	m.SetMessageID("round@example.com")
	m.SetFrom(addr("sender@example.com"))
	m.SetTo(addr("a@x"))
	m.SetBcc(addr("hidden@x"))
	m.SetSubject("Hello")
	m.SetType("newsletter")
	m.SetTextBody("body text\r\n")

	raw, err := m.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.UniqueID() != m.UniqueID() {
		t.Errorf("parsed unique id = %q, want %q", parsed.UniqueID(), m.UniqueID())
	}
	if parsed.Type() != "newsletter" {
		t.Errorf("Type = %q, want newsletter", parsed.Type())
	}
	if got := parsed.Recipients(); len(got) != 2 {
		t.Errorf("Recipients = %v, want To and Bcc", got)
	}
	if !bytes.Equal(parsed.Body(), []byte("body text\r\n")) {
		t.Errorf("Body = %q", parsed.Body())
	}
}

func TestWriteTo_StripsBcc(t *testing.T) {
	m := New()
	m.SetFrom(addr("sender@example.com"))
	m.SetTo(addr("a@x"))
	m.SetBcc(addr("hidden@x"))
	m.SetTextBody("hi")

	var buf bytes.Buffer
	n, err := m.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo returned %d, wrote %d", n, buf.Len())
	}
	if strings.Contains(buf.String(), "hidden@x") {
		t.Error("wire format leaks the Bcc recipient")
	}
	if !strings.Contains(buf.String(), "Mime-Version: 1.0") {
		t.Error("wire format is missing Mime-Version")
	}
}

func TestAddBcc_Appends(t *testing.T) {
	m := New()
	m.SetTo(addr("a@x"))
	before := m.UniqueID()

	m.AddBcc(addr("b@x"))
	m.AddBcc(addr("c@x"))

	if got := strings.Join(m.Recipients(), ","); got != "a@x,b@x,c@x" {
		t.Errorf("Recipients = %s", got)
	}
	if m.UniqueID() != before {
		t.Error("AddBcc changed the unique id")
	}
}
