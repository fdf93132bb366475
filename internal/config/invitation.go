package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// InvitationKind identifies how an invitation payload was encoded.
type InvitationKind string

const (
	InvitationOutOfBand      InvitationKind = "out-of-band"    // ?oob=
	InvitationConnection     InvitationKind = "connection"     // ?c_i=
	InvitationConnectionless InvitationKind = "connectionless" // ?d_m=
	InvitationOpaque         InvitationKind = "opaque"
)

// Invitation is the decoded summary of an invitation URL. Opaque
// invitations are handed to the agent untouched and carry no fields.
type Invitation struct {
	Raw                string
	Kind               InvitationKind
	Type               string
	ID                 string
	Label              string
	Endpoint           string
	HandshakeProtocols []string
}

var invitationParams = []struct {
	param string
	kind  InvitationKind
}{
	{"oob", InvitationOutOfBand},
	{"c_i", InvitationConnection},
	{"d_m", InvitationConnectionless},
}

// ParseInvitation decodes the base64url JSON payload carried in an
// invitation URL. URLs without a known payload parameter are opaque.
func ParseInvitation(raw string) (Invitation, error) {
	inv := Invitation{Raw: strings.TrimSpace(raw), Kind: InvitationOpaque}
	if inv.Raw == "" {
		return inv, fmt.Errorf("empty invitation")
	}
	u, err := url.Parse(inv.Raw)
	if err != nil {
		return inv, nil
	}
	query := u.Query()
	for _, p := range invitationParams {
		encoded := query.Get(p.param)
		if encoded == "" {
			continue
		}
		payload, err := decodeBase64URL(encoded)
		if err != nil {
			return inv, fmt.Errorf("%s payload is not base64: %w", p.param, err)
		}
		if !gjson.ValidBytes(payload) {
			return inv, fmt.Errorf("%s payload is not valid JSON", p.param)
		}
		inv.Kind = p.kind
		describeInvitation(&inv, gjson.ParseBytes(payload))
		if inv.Type == "" {
			return inv, fmt.Errorf("%s payload has no @type", p.param)
		}
		return inv, nil
	}
	return inv, nil
}

func describeInvitation(inv *Invitation, doc gjson.Result) {
	// "@" starts a gjson modifier, so the JSON-LD keys are read from the map.
	fields := doc.Map()
	inv.Type = fields["@type"].String()
	inv.ID = fields["@id"].String()
	inv.Label = doc.Get("label").String()

	switch inv.Kind {
	case InvitationOutOfBand:
		for _, hp := range doc.Get("handshake_protocols").Array() {
			inv.HandshakeProtocols = append(inv.HandshakeProtocols, hp.String())
		}
		inv.Endpoint = serviceEndpoint(doc.Get("services.0"))
	case InvitationConnection:
		inv.Endpoint = serviceEndpoint(doc)
	case InvitationConnectionless:
		inv.Endpoint = serviceEndpoint(fields["~service"])
	}
}

// serviceEndpoint accepts a DID string, a service block with a string
// endpoint, or a DIDComm v2 endpoint object.
func serviceEndpoint(service gjson.Result) string {
	if !service.Exists() {
		return ""
	}
	if service.Type == gjson.String {
		return service.String()
	}
	ep := service.Get("serviceEndpoint")
	if ep.IsObject() {
		return ep.Get("uri").String()
	}
	if ep.IsArray() {
		return ep.Get("0").String()
	}
	return ep.String()
}

func decodeBase64URL(s string) ([]byte, error) {
	// Query decoding turns '+' into a space; restore it before normalizing
	// the standard alphabet to the URL-safe one.
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
