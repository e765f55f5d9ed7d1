// Package trustboot bootstraps a witness's identity: a domain signing
// keypair (Ed25519 or BLS, per the network's configured scheme) plus a
// self-signed X.509 certificate binding the witness_id to that public
// key, in the same self-signed-certificate style the platform's trust
// authority uses to issue agency certificates. The certificate lets an
// operator hand a witness's identity to a peer network's trust store
// without transmitting the private key out of band.
package trustboot

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/witnessnet/gateway/internal/crypto"
)

// domainPublicKeyOID is a private-use extension OID carrying the
// witness's domain (Ed25519 or BLS) public key, since only the identity
// keypair used to sign the certificate can serve as its
// SubjectPublicKeyInfo — a BLS key cannot.
var domainPublicKeyOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57169, 1}

// DefaultValidity is how long an issued witness certificate remains valid.
const DefaultValidity = 5 * 365 * 24 * time.Hour

// Identity is everything cmd/witness --generate-key writes to disk.
type Identity struct {
	WitnessID  string
	Scheme     crypto.SchemeType
	PublicKey  []byte // domain public key, used for attestation verification
	PrivateKey []byte // domain private key, used for attestation signing
	CertPEM    []byte // self-signed X.509 certificate binding WitnessID to PublicKey
	CertKeyPEM []byte // PEM-encoded PKCS8 identity key that signed CertPEM
}

type domainKeyExtension struct {
	Scheme    string `json:"scheme"`
	PublicKey string `json:"public_key"`
}

// Generate produces a fresh domain keypair for scheme and a self-signed
// certificate binding witnessID to its public key.
func Generate(witnessID string, scheme crypto.SchemeType) (Identity, error) {
	s, err := crypto.New(scheme)
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: %w", err)
	}
	pub, priv, err := s.Generate()
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: generate domain key: %w", err)
	}

	identityPub, identityPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: generate identity key: %w", err)
	}

	extValue, err := json.Marshal(domainKeyExtension{Scheme: string(scheme), PublicKey: hex.EncodeToString(pub)})
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: encode domain key extension: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   witnessID,
			Organization: []string{"Witness Network"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(DefaultValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		ExtraExtensions:       []pkix.Extension{{Id: domainPublicKeyOID, Value: extValue}},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, identityPub, identityPriv)
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: create certificate: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalPKCS8PrivateKey(identityPriv)
	if err != nil {
		return Identity{}, fmt.Errorf("trustboot: marshal identity key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return Identity{
		WitnessID:  witnessID,
		Scheme:     scheme,
		PublicKey:  pub,
		PrivateKey: priv,
		CertPEM:    certPEM,
		CertKeyPEM: keyPEM,
	}, nil
}

// ExtractDomainKey parses a witness certificate produced by Generate and
// returns the witness_id, scheme, and domain public key it binds. The
// certificate's own signature is self-verified against its embedded
// identity public key.
func ExtractDomainKey(certPEM []byte) (witnessID string, scheme crypto.SchemeType, publicKey []byte, err error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", "", nil, fmt.Errorf("trustboot: failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", "", nil, fmt.Errorf("trustboot: parse certificate: %w", err)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return "", "", nil, fmt.Errorf("trustboot: certificate self-signature invalid: %w", err)
	}

	var ext domainKeyExtension
	found := false
	for _, e := range cert.Extensions {
		if e.Id.Equal(domainPublicKeyOID) {
			if err := json.Unmarshal(e.Value, &ext); err != nil {
				return "", "", nil, fmt.Errorf("trustboot: decode domain key extension: %w", err)
			}
			found = true
			break
		}
	}
	if !found {
		return "", "", nil, fmt.Errorf("trustboot: certificate missing domain key extension")
	}

	pub, err := hex.DecodeString(ext.PublicKey)
	if err != nil {
		return "", "", nil, fmt.Errorf("trustboot: decode domain public key: %w", err)
	}
	return cert.Subject.CommonName, crypto.SchemeType(ext.Scheme), pub, nil
}
