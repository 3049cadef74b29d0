package sso

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

type samlSettings struct {
	EntityID    string `json:"entityId"`
	SSOURL      string `json:"ssoUrl"`
	Certificate string `json:"certificate"`

	// Optional request signing
	SignRequests  bool   `json:"signRequests,omitempty"`
	PrivateKey    string `json:"privateKey,omitempty"`
	SPCertificate string `json:"spCertificate,omitempty"`

	// SPEntityID defaults to the service base URL
	SPEntityID   string `json:"spEntityId,omitempty"`
	NameIDFormat string `json:"nameIdFormat,omitempty"`
}

// SAMLProvider implements SAML 2.0 SSO with the HTTP-Redirect binding for
// requests and HTTP-POST for responses
type SAMLProvider struct {
	settings  samlSettings
	certStore dsig.X509CertificateStore
	keyStore  dsig.X509KeyStore
	spIssuer  string
}

func newSAMLProvider(cfg *IdentityProviderConfig, deps Deps) (*SAMLProvider, error) {
	var s samlSettings
	if err := cfg.decodeSettings(&s); err != nil {
		return nil, &ProviderMisconfiguredError{Provider: ProviderTypeSAML, Reason: err.Error()}
	}
	if err := requireSettings(ProviderTypeSAML,
		[2]string{"entityId", s.EntityID},
		[2]string{"ssoUrl", s.SSOURL},
		[2]string{"certificate", s.Certificate},
	); err != nil {
		return nil, err
	}

	cert, err := parseCertificate(s.Certificate)
	if err != nil {
		return nil, &ProviderMisconfiguredError{Provider: ProviderTypeSAML, Reason: err.Error()}
	}

	p := &SAMLProvider{
		settings:  s,
		certStore: &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}},
		spIssuer:  s.SPEntityID,
	}
	if p.spIssuer == "" {
		p.spIssuer = strings.TrimSuffix(deps.BaseURL, "/")
	}

	if s.SignRequests {
		if err := requireSettings(ProviderTypeSAML,
			[2]string{"privateKey", s.PrivateKey},
			[2]string{"spCertificate", s.SPCertificate},
		); err != nil {
			return nil, err
		}
		keyStore, err := parseKeyStore(s.PrivateKey, s.SPCertificate)
		if err != nil {
			return nil, &ProviderMisconfiguredError{Provider: ProviderTypeSAML, Reason: err.Error()}
		}
		p.keyStore = keyStore
	}

	return p, nil
}

// parseCertificate accepts PEM or the bare base64 DER found in IdP metadata
func parseCertificate(raw string) (*x509.Certificate, error) {
	raw = strings.TrimSpace(raw)
	var der []byte
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(raw), ""))
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate: %w", err)
		}
		der = decoded
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func parseKeyStore(privateKeyPEM, certificate string) (dsig.X509KeyStore, error) {
	keyBlock, _ := pem.Decode([]byte(privateKeyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		// Try PKCS8 format
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}

	cert, err := parseCertificate(certificate)
	if err != nil {
		return nil, err
	}
	return &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{cert.Raw},
	}, nil
}

// serviceProvider builds the SP for one callback, which is the assertion consumer URL
func (p *SAMLProvider) serviceProvider(callback CallbackURL) *saml2.SAMLServiceProvider {
	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      p.settings.SSOURL,
		IdentityProviderIssuer:      p.settings.EntityID,
		ServiceProviderIssuer:       p.spIssuer,
		AssertionConsumerServiceURL: callback.String(),
		AudienceURI:                 p.spIssuer,
		IDPCertificateStore:         p.certStore,
		SignAuthnRequests:           p.keyStore != nil,
		SPKeyStore:                  p.keyStore,
	}
	if p.settings.NameIDFormat != "" {
		sp.NameIdFormat = p.settings.NameIDFormat
	}
	return sp
}

// Type returns the provider type
func (p *SAMLProvider) Type() ProviderType {
	return ProviderTypeSAML
}

// AuthorizationURL returns the HTTP-Redirect AuthnRequest URL with state as RelayState
func (p *SAMLProvider) AuthorizationURL(state string, callback CallbackURL) (string, error) {
	authURL, err := p.serviceProvider(callback).BuildAuthURL(state)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

// Exchange validates the posted SAMLResponse and returns its attributes.
// The NameID is exposed under "nameId".
func (p *SAMLProvider) Exchange(ctx context.Context, params CallbackParams, callback CallbackURL) (Claims, error) {
	if params.SAMLResponse == "" {
		return nil, fmt.Errorf("%w: missing SAMLResponse parameter", ErrExchangeRejected)
	}
	if _, err := base64.StdEncoding.DecodeString(params.SAMLResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to decode SAMLResponse: %v", ErrExchangeRejected, err)
	}

	info, err := p.serviceProvider(callback).RetrieveAssertionInfo(params.SAMLResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to validate assertion: %v", ErrExchangeRejected, err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("%w: assertion has invalid time", ErrExchangeRejected)
		}
		if info.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("%w: assertion not in expected audience", ErrExchangeRejected)
		}
	}

	claims := Claims{"nameId": info.NameID}
	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		values := make([]interface{}, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		claims[attr.Name] = values
		if attr.FriendlyName != "" {
			claims[attr.FriendlyName] = values
		}
	}
	return claims, nil
}

const (
	claimEmailAddress = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	claimName         = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
)

// MapClaims maps the email attribute, falling back to the NameID
func (p *SAMLProvider) MapClaims(claims Claims, mapping UserMapping) (*Identity, error) {
	return mapClaims(claims, mapping, "nameId",
		[]string{"email", "mail", claimEmailAddress, "nameId"},
		[]string{"name", "displayName", claimName},
	)
}
